package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
)

// ErrNotFound is returned when the requested device does not exist.
var ErrNotFound = errors.New("store: not found")

// SampleQuery selects samples of one device.
//
//   - From set: for each signal, the latest sample at or before From (the
//     replay seed) plus every sample in (From, To]. A zero To is unbounded.
//   - From zero, At set: the latest sample per signal at or before At.
//   - Neither set: every sample at or before To (unbounded when zero);
//     Count > 0 keeps only the most recent Count samples.
//
// Results are ordered by timestamp; ties keep insertion order.
type SampleQuery struct {
	DeviceID  string
	SignalIDs []string // nil selects every signal of the device
	From      time.Time
	To        time.Time
	At        time.Time
	Count     int
}

// Reader is the read side used by the analytics modules.
type Reader interface {
	ReadDevice(ctx context.Context, deviceID string) (types.Device, error)
	ReadComponents(ctx context.Context, dev types.Device) ([]types.Component, error)
	ReadSignals(ctx context.Context, dev types.Device) ([]types.SignalDefinition, error)
	ReadSamples(ctx context.Context, q SampleQuery) ([]types.Sample, error)
}

// Writer accepts new samples from ingestion.
type Writer interface {
	WriteSamples(ctx context.Context, samples []types.Sample) error
}

// Store is a Reader and Writer that can report its own health.
type Store interface {
	Reader
	Writer
	Ping(ctx context.Context) error
}

// Select applies q to all, the samples of one device sorted by timestamp
// with ties in insertion order. The result preserves that order.
func Select(all []types.Sample, q SampleQuery) []types.Sample {
	want := func(string) bool { return true }
	if q.SignalIDs != nil {
		ids := make(map[string]bool, len(q.SignalIDs))
		for _, id := range q.SignalIDs {
			ids[id] = true
		}
		want = func(id string) bool { return ids[id] }
	}

	switch {
	case !q.From.IsZero():
		return seedAndRange(all, want, q.From, q.To)

	case !q.At.IsZero():
		return seedAndRange(all, want, q.At, q.At)

	default:
		var out []types.Sample
		for _, s := range all {
			if !q.To.IsZero() && s.Timestamp.After(q.To) {
				break
			}
			if want(s.SignalID) {
				out = append(out, s)
			}
		}
		if q.Count > 0 && len(out) > q.Count {
			out = out[len(out)-q.Count:]
		}
		return out
	}
}

// seedAndRange returns the latest sample per signal at or before seedAt,
// followed by every sample in (seedAt, to]. A zero to is unbounded.
func seedAndRange(all []types.Sample, want func(string) bool, seedAt, to time.Time) []types.Sample {
	split := sort.Search(len(all), func(i int) bool { return all[i].Timestamp.After(seedAt) })

	latest := make(map[string]int)
	for i, s := range all[:split] {
		if want(s.SignalID) {
			latest[s.SignalID] = i
		}
	}
	seeds := make([]int, 0, len(latest))
	for _, i := range latest {
		seeds = append(seeds, i)
	}
	sort.Ints(seeds)

	out := make([]types.Sample, 0, len(seeds))
	for _, i := range seeds {
		out = append(out, all[i])
	}
	for _, s := range all[split:] {
		if !to.IsZero() && s.Timestamp.After(to) {
			break
		}
		if want(s.SignalID) {
			out = append(out, s)
		}
	}
	return out
}
