package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func at(minute int) time.Time { return baseTime.Add(time.Duration(minute) * time.Minute) }

func smp(id string, minute int, value string) types.Sample {
	return types.Sample{DeviceID: "mill-1", SignalID: id, Timestamp: at(minute), Value: value}
}

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newMemory(t *testing.T, samples ...types.Sample) *Memory {
	t.Helper()
	m := NewMemory(0)
	m.PutDevice(types.Device{ID: "mill-1", InstanceID: "i1"},
		[]types.Component{{ID: "ctrl", Type: "Controller"}},
		[]types.SignalDefinition{{ID: "exec", Type: "EXECUTION", Category: "EVENT", ComponentID: "ctrl"}},
	)
	if err := m.WriteSamples(context.Background(), samples); err != nil {
		t.Fatalf("WriteSamples() error = %v", err)
	}
	return m
}

func ids(samples []types.Sample) []string {
	out := make([]string, 0, len(samples))
	for _, s := range samples {
		out = append(out, s.SignalID+"="+s.Value)
	}
	return out
}

func assertIDs(t *testing.T, got []types.Sample, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("samples = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Errorf("samples[%d] = %q, want %q (all: %v)", i, g[i], want[i], g)
		}
	}
}

func TestMemory_ReadDevice(t *testing.T) {
	m := newMemory(t)
	dev, err := m.ReadDevice(context.Background(), "mill-1")
	if err != nil {
		t.Fatalf("ReadDevice() error = %v", err)
	}
	if dev.InstanceID != "i1" {
		t.Errorf("InstanceID = %q, want i1", dev.InstanceID)
	}

	if _, err := m.ReadDevice(context.Background(), "lathe-9"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ReadDevice(unknown) error = %v, want ErrNotFound", err)
	}

	sigs, _ := m.ReadSignals(context.Background(), dev)
	comps, _ := m.ReadComponents(context.Background(), dev)
	if len(sigs) != 1 || len(comps) != 1 {
		t.Errorf("signals=%d components=%d, want 1 and 1", len(sigs), len(comps))
	}

	stale, _ := m.ReadSignals(context.Background(), types.Device{ID: "mill-1", InstanceID: "old"})
	if len(stale) != 0 {
		t.Errorf("signals for stale instance = %d, want 0", len(stale))
	}
}

func TestMemory_ReadSamples_FromSeedsAndRange(t *testing.T) {
	m := newMemory(t,
		smp("exec", -20, "READY"),
		smp("exec", -10, "ACTIVE"),
		smp("prog", -5, "O100"),
		smp("exec", 5, "STOPPED"),
		smp("ovr", 6, "100"),
		smp("exec", 40, "ACTIVE"),
	)
	got, err := m.ReadSamples(context.Background(), SampleQuery{
		DeviceID:  "mill-1",
		SignalIDs: []string{"exec", "prog"},
		From:      at(0),
		To:        at(30),
	})
	if err != nil {
		t.Fatalf("ReadSamples() error = %v", err)
	}
	assertIDs(t, got, "exec=ACTIVE", "prog=O100", "exec=STOPPED")
}

func TestMemory_ReadSamples_SampleAtFromIsSeed(t *testing.T) {
	m := newMemory(t, smp("exec", -1, "READY"), smp("exec", 0, "ACTIVE"), smp("exec", 3, "READY"))
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1", From: at(0)})
	assertIDs(t, got, "exec=ACTIVE", "exec=READY")
}

func TestMemory_ReadSamples_At(t *testing.T) {
	m := newMemory(t, smp("exec", 0, "READY"), smp("exec", 4, "ACTIVE"), smp("prog", 2, "O1"), smp("exec", 9, "STOPPED"))
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1", At: at(5)})
	assertIDs(t, got, "prog=O1", "exec=ACTIVE")
}

func TestMemory_ReadSamples_RecentCount(t *testing.T) {
	m := newMemory(t, smp("a", 0, "1"), smp("a", 1, "2"), smp("a", 2, "3"), smp("a", 3, "4"))
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1", Count: 2})
	assertIDs(t, got, "a=3", "a=4")

	got, _ = m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1", To: at(1)})
	assertIDs(t, got, "a=1", "a=2")
}

func TestMemory_WriteSamples_OutOfOrderKeepsTies(t *testing.T) {
	m := newMemory(t, smp("a", 5, "late"), smp("b", 1, "early"), smp("c", 5, "tie"))
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1"})
	assertIDs(t, got, "b=early", "a=late", "c=tie")

	if err := m.WriteSamples(context.Background(), []types.Sample{{SignalID: "x"}}); err == nil {
		t.Error("WriteSamples without device: want error")
	}
}

func TestMemory_WriteSamples_RejectedBatchStoresNothing(t *testing.T) {
	m := NewMemory(0)
	batch := []types.Sample{smp("a", 1, "ok"), {DeviceID: "mill-1", Timestamp: at(2)}}
	if err := m.WriteSamples(context.Background(), batch); err == nil {
		t.Fatal("WriteSamples with missing signal_id: want error")
	}
	if n := m.Count(); n != 0 {
		t.Errorf("Count() = %d after rejected batch, want 0", n)
	}
}

func TestMemory_ReadSamples_UnknownDevice(t *testing.T) {
	m := NewMemory(0)
	got, err := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "nope", From: at(0)})
	if err != nil || got != nil {
		t.Errorf("ReadSamples(unknown) = %v, %v; want nil, nil", got, err)
	}
}

func TestMemory_EvictKeepsNewestPerSignal(t *testing.T) {
	m := NewMemory(10 * time.Minute)
	m.now = fixedClock(at(60))
	_ = m.WriteSamples(context.Background(), []types.Sample{
		smp("a", 0, "1"), smp("a", 5, "2"), smp("b", 10, "x"), smp("a", 55, "3"),
	})

	if n := m.Evict(m.now()); n != 2 {
		t.Errorf("Evict() = %d, want 2", n)
	}
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1"})
	assertIDs(t, got, "b=x", "a=3")
	if m.Count() != 2 {
		t.Errorf("Count() = %d, want 2", m.Count())
	}
}

func TestMemory_EvictWithoutRetention(t *testing.T) {
	m := newMemory(t, smp("a", -1000, "1"))
	if n := m.Evict(at(0)); n != 0 {
		t.Errorf("Evict() with no retention = %d, want 0", n)
	}
}

func TestMemory_RunStopsOnCancel(t *testing.T) {
	m := NewMemory(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemory_LoadSeed(t *testing.T) {
	const seed = `
devices:
  - device_id: mill-1
    instance_id: "42"
    components:
      - {id: ctrl, type: Controller}
    signals:
      - {id: exec, type: EXECUTION, category: EVENT, component_id: ctrl}
    samples:
      - {signal_id: exec, timestamp: 2026-01-01T00:00:00Z, value: READY}
      - {signal_id: exec, timestamp: 2026-01-01T00:05:00Z, value: ACTIVE}
`
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewMemory(0)
	if err := m.LoadSeed(path); err != nil {
		t.Fatalf("LoadSeed() error = %v", err)
	}
	dev, err := m.ReadDevice(context.Background(), "mill-1")
	if err != nil || dev.InstanceID != "42" {
		t.Fatalf("ReadDevice() = %+v, %v", dev, err)
	}
	got, _ := m.ReadSamples(context.Background(), SampleQuery{DeviceID: "mill-1"})
	assertIDs(t, got, "exec=READY", "exec=ACTIVE")
}

func TestMemory_LoadSeedErrors(t *testing.T) {
	m := NewMemory(0)
	if err := m.LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadSeed(missing): want error")
	}
	path := filepath.Join(t.TempDir(), "seed.yaml")
	_ = os.WriteFile(path, []byte("devices:\n  - device_id: x\n"), 0o600)
	if err := m.LoadSeed(path); err == nil {
		t.Error("LoadSeed(no instance): want error")
	}
}
