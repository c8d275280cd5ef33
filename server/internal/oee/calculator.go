package oee

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
	"github.com/obsidianstack/analytics/server/internal/timeline"
)

// calculator reads samples for one device and runs the computations.
type calculator struct {
	deps module.Deps
}

func (c calculator) read(ctx context.Context, dev *module.Device, ids []string, w timeline.Window) ([]types.Sample, error) {
	samples, err := c.deps.Store.ReadSamples(ctx, store.SampleQuery{
		DeviceID:  dev.ID,
		SignalIDs: ids,
		From:      w.From,
		To:        w.To,
	})
	if err != nil {
		return nil, fmt.Errorf("oee: read samples: %w", err)
	}
	return samples, nil
}

// availability computes the Availability of dev over w, nil when absent.
func (c calculator) availability(ctx context.Context, dev *module.Device, w timeline.Window, details bool) (*Availability, error) {
	ev, ok, err := module.Event(c.deps.Rules, rules.EventStatus)
	if err != nil || !ok {
		return nil, err
	}
	ids := ev.SignalIDs(dev.Catalog)
	if len(ids) == 0 {
		slog.Info("oee: no status signals", "device_id", dev.ID)
		return nil, nil
	}
	samples, err := c.read(ctx, dev, ids, w)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return ComputeAvailability(samples, w, c.deps.Clock(), ev.Evaluator(dev.Catalog), details), nil
}

// performance computes the Performance of dev over w against the Status
// timeline, nil when absent.
func (c calculator) performance(ctx context.Context, dev *module.Device, w timeline.Window, status []timeline.Interval, details bool) (*Performance, error) {
	var ids []string
	for _, s := range dev.Catalog.Select(IsOverride) {
		ids = append(ids, s.ID)
	}
	if len(ids) == 0 {
		slog.Info("oee: no override signals", "device_id", dev.ID)
		return nil, nil
	}
	samples, err := c.read(ctx, dev, ids, w)
	if err != nil || len(samples) == 0 {
		return nil, err
	}
	return ComputePerformance(samples, w, c.deps.Clock(), status, details), nil
}

// oee computes one Result over w. ok is false when availability is absent.
func (c calculator) oee(ctx context.Context, dev *module.Device, w timeline.Window, details bool) (r Result, ok bool, err error) {
	a, err := c.availability(ctx, dev, w, details)
	if err != nil {
		return Result{}, false, err
	}
	if a == nil {
		return Compose(w, nil, nil), false, nil
	}
	p, err := c.performance(ctx, dev, w, a.Intervals(), details)
	if err != nil {
		return Result{}, false, err
	}
	return Compose(w, a, p), true, nil
}

// AvailabilityModule serves /availability.
type AvailabilityModule struct{ calc calculator }

// NewAvailability returns the availability module.
func NewAvailability(deps module.Deps) *AvailabilityModule {
	return &AvailabilityModule{calc: calculator{deps: deps}}
}

// Name implements module.Module.
func (m *AvailabilityModule) Name() string { return "availability" }

// GetResponse implements module.Module.
func (m *AvailabilityModule) GetResponse(ctx context.Context, q query.Query) (any, error) {
	dev, err := module.LoadDevice(ctx, m.calc.deps.Store, q.DeviceID)
	if err != nil || dev == nil {
		return nil, err
	}
	a, err := m.calc.availability(ctx, dev, q.Window(), q.Details)
	if err != nil || a == nil {
		return nil, err
	}
	return a, nil
}

// PerformanceModule serves /performance.
type PerformanceModule struct{ calc calculator }

// NewPerformance returns the performance module.
func NewPerformance(deps module.Deps) *PerformanceModule {
	return &PerformanceModule{calc: calculator{deps: deps}}
}

// Name implements module.Module.
func (m *PerformanceModule) Name() string { return "performance" }

// GetResponse implements module.Module. Performance is absent when the
// Status timeline cannot be computed.
func (m *PerformanceModule) GetResponse(ctx context.Context, q query.Query) (any, error) {
	dev, err := module.LoadDevice(ctx, m.calc.deps.Store, q.DeviceID)
	if err != nil || dev == nil {
		return nil, err
	}
	w := q.Window()
	a, err := m.calc.availability(ctx, dev, w, false)
	if err != nil || a == nil {
		return nil, err
	}
	p, err := m.calc.performance(ctx, dev, w, a.Intervals(), q.Details)
	if err != nil || p == nil {
		return nil, err
	}
	return p, nil
}

// Module serves /oee.
type Module struct{ calc calculator }

// New returns the OEE module.
func New(deps module.Deps) *Module {
	return &Module{calc: calculator{deps: deps}}
}

// Name implements module.Module.
func (m *Module) Name() string { return "oee" }

// GetResponse implements module.Module. With an increment and a from time
// it returns one Result per bucket, otherwise a single Result.
func (m *Module) GetResponse(ctx context.Context, q query.Query) (any, error) {
	dev, err := module.LoadDevice(ctx, m.calc.deps.Store, q.DeviceID)
	if err != nil || dev == nil {
		return nil, err
	}

	w := q.Window()
	if q.Increment <= 0 || w.From.IsZero() {
		r, ok, err := m.calc.oee(ctx, dev, w, q.Details)
		if err != nil || !ok {
			return nil, err
		}
		return r, nil
	}

	to := w.End(m.calc.deps.Clock())
	var (
		out  []Result
		data bool
	)
	for _, b := range Buckets(w.From, to, q.Increment) {
		r, ok, err := m.calc.oee(ctx, dev, b, q.Details)
		if err != nil {
			return nil, err
		}
		data = data || ok
		out = append(out, r)
	}
	if !data {
		return nil, nil
	}
	return out, nil
}

var (
	_ module.Module = (*AvailabilityModule)(nil)
	_ module.Module = (*PerformanceModule)(nil)
	_ module.Module = (*Module)(nil)
)
