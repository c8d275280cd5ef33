// Package alarms reports the non-normal condition samples of a device.
package alarms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/store"
)

// Alarm is one CONDITION sample whose level is not NORMAL.
type Alarm struct {
	SignalID  string    `json:"signal_id"`
	Timestamp time.Time `json:"timestamp"`
	Condition string    `json:"condition"`
	Message   string    `json:"message,omitempty"`
}

// Collect returns an Alarm for every sample whose condition is not NORMAL,
// in input order.
func Collect(samples []types.Sample) []Alarm {
	var out []Alarm
	for _, s := range samples {
		if strings.EqualFold(s.Condition, types.ConditionNormal) {
			continue
		}
		out = append(out, Alarm{
			SignalID:  s.SignalID,
			Timestamp: s.Timestamp,
			Condition: s.Condition,
			Message:   s.Value,
		})
	}
	return out
}

// Module serves /alarms.
type Module struct {
	deps module.Deps
}

var _ module.Module = (*Module)(nil)

// New returns the alarms module.
func New(deps module.Deps) *Module { return &Module{deps: deps} }

// Name implements module.Module.
func (m *Module) Name() string { return "alarms" }

// GetResponse implements module.Module.
func (m *Module) GetResponse(ctx context.Context, q query.Query) (any, error) {
	dev, err := module.LoadDevice(ctx, m.deps.Store, q.DeviceID)
	if err != nil || dev == nil {
		return nil, err
	}

	var ids []string
	for _, s := range dev.Catalog.Select(func(s types.SignalDefinition) bool {
		return s.Category == types.CategoryCondition
	}) {
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		slog.Info("alarms: no condition signals", "device_id", dev.ID)
		return nil, nil
	}

	samples, err := m.deps.Store.ReadSamples(ctx, store.SampleQuery{
		DeviceID:  dev.ID,
		SignalIDs: ids,
		From:      q.From,
		To:        q.To,
		At:        q.At,
		Count:     q.Count,
	})
	if err != nil {
		return nil, fmt.Errorf("alarms: read samples: %w", err)
	}

	out := Collect(samples)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
