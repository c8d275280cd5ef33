package programs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
)

// Module serves /programs.
type Module struct {
	deps module.Deps
}

var _ module.Module = (*Module)(nil)

// New returns the programs module.
func New(deps module.Deps) *Module { return &Module{deps: deps} }

// Name implements module.Module.
func (m *Module) Name() string { return "programs" }

// GetResponse implements module.Module. It returns nil when the device has
// no PROGRAM or EXECUTION signal, or no program ran in the window.
func (m *Module) GetResponse(ctx context.Context, q query.Query) (any, error) {
	dev, err := module.LoadDevice(ctx, m.deps.Store, q.DeviceID)
	if err != nil || dev == nil {
		return nil, err
	}

	prog, okProg := dev.Catalog.FindType(types.TypeProgram)
	exec, okExec := dev.Catalog.FindType(types.TypeExecution)
	if !okProg || !okExec {
		slog.Info("programs: program or execution signal missing", "device_id", dev.ID)
		return nil, nil
	}

	ev, ok, err := module.Event(m.deps.Rules, rules.EventProgramStatus)
	if err != nil || !ok {
		return nil, err
	}

	ids := ev.SignalIDs(dev.Catalog)
	for _, id := range []string{prog.ID, exec.ID} {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	w := q.Window()
	samples, err := m.deps.Store.ReadSamples(ctx, store.SampleQuery{
		DeviceID:  dev.ID,
		SignalIDs: ids,
		From:      w.From,
		To:        w.To,
	})
	if err != nil {
		return nil, fmt.Errorf("programs: read samples: %w", err)
	}

	out := Track(samples, w, m.deps.Clock(), ev.Evaluator(dev.Catalog),
		Signals{Program: prog.ID, Execution: exec.ID})
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
