package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/metrics"
	"github.com/obsidianstack/analytics/server/internal/store"
)

// wireSample is one sample as published. device_id may be omitted inside a
// batch.
type wireSample struct {
	DeviceID  string    `json:"device_id"`
	SignalID  string    `json:"signal_id"`
	Timestamp time.Time `json:"timestamp"`
	Value     string    `json:"value"`
	Condition string    `json:"condition"`
}

type batch struct {
	DeviceID string       `json:"device_id"`
	Samples  []wireSample `json:"samples"`
	wireSample
}

// Decode parses a payload into samples. fallbackDevice is used when the
// payload names no device.
func Decode(payload []byte, fallbackDevice string) ([]types.Sample, error) {
	var b batch
	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("ingest: decode payload: %w", err)
	}

	wire := b.Samples
	if len(wire) == 0 {
		if b.SignalID == "" {
			return nil, errors.New("ingest: payload has no samples")
		}
		wire = []wireSample{b.wireSample}
	}

	device := b.DeviceID
	if device == "" {
		device = fallbackDevice
	}

	out := make([]types.Sample, 0, len(wire))
	for i, w := range wire {
		s := types.Sample{
			DeviceID:  strings.TrimSpace(w.DeviceID),
			SignalID:  strings.TrimSpace(w.SignalID),
			Timestamp: w.Timestamp.UTC(),
			Value:     w.Value,
			Condition: w.Condition,
		}
		if s.DeviceID == "" {
			s.DeviceID = device
		}
		switch {
		case s.DeviceID == "":
			return nil, fmt.Errorf("ingest: sample %d: device_id missing", i)
		case s.SignalID == "":
			return nil, fmt.Errorf("ingest: sample %d: signal_id missing", i)
		case w.Timestamp.IsZero():
			return nil, fmt.Errorf("ingest: sample %d: timestamp missing", i)
		}
		out = append(out, s)
	}
	return out, nil
}

// Sink writes decoded payloads to a store.
type Sink struct {
	Writer  store.Writer
	Metrics *metrics.Metrics

	// Source labels metrics and logs, e.g. "mqtt".
	Source string
}

// Handle decodes payload and writes its samples. Failures are counted and
// returned; the caller decides whether to keep consuming.
func (s *Sink) Handle(ctx context.Context, payload []byte, fallbackDevice string) error {
	samples, err := Decode(payload, fallbackDevice)
	if err != nil {
		s.Metrics.IngestFailed(s.Source)
		return err
	}
	if err := s.Writer.WriteSamples(ctx, samples); err != nil {
		s.Metrics.IngestFailed(s.Source)
		return fmt.Errorf("ingest: write samples: %w", err)
	}
	s.Metrics.Ingested(s.Source, len(samples))
	slog.Debug("ingest: stored samples", "source", s.Source, "device_id", samples[0].DeviceID, "count", len(samples))
	return nil
}
