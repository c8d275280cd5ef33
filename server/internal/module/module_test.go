package module

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
)

type stubModule struct{ name string }

func (s stubModule) Name() string { return s.name }
func (s stubModule) GetResponse(context.Context, query.Query) (any, error) {
	return s.name, nil
}

func TestRegistry_RegisterGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubModule{"oee"})
	reg.Register(stubModule{"Alarms"})

	if _, ok := reg.Get("OEE"); !ok {
		t.Error("Get(OEE) not found, want case-insensitive match")
	}
	if _, ok := reg.Get("programs"); ok {
		t.Error("Get(programs) found, want missing")
	}
	names := reg.Names()
	if len(names) != 2 || names[0] != "alarms" || names[1] != "oee" {
		t.Errorf("Names() = %v, want [alarms oee]", names)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := NewRegistry()
	reg.Register(stubModule{"oee"})
	defer func() {
		if recover() == nil {
			t.Error("duplicate Register did not panic")
		}
	}()
	reg.Register(stubModule{"oee"})
}

func TestDeps_Clock(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := (Deps{Now: func() time.Time { return fixed }}).Clock(); !got.Equal(fixed) {
		t.Errorf("Clock() = %v, want %v", got, fixed)
	}
	if got := (Deps{}).Clock(); got.IsZero() {
		t.Error("default Clock() returned zero time")
	}
}

func TestLoadDevice(t *testing.T) {
	mem := store.NewMemory(0)
	mem.PutDevice(types.Device{ID: "mill-1", InstanceID: "i1"},
		[]types.Component{{ID: "ctrl", Type: "Controller"}},
		[]types.SignalDefinition{{ID: "exec", Type: types.TypeExecution, ComponentID: "ctrl"}})
	mem.PutDevice(types.Device{ID: "empty", InstanceID: "i1"}, nil, nil)

	dev, err := LoadDevice(context.Background(), mem, "mill-1")
	if err != nil || dev == nil {
		t.Fatalf("LoadDevice() = %v, %v", dev, err)
	}
	if _, ok := dev.Catalog.FindType(types.TypeExecution); !ok {
		t.Error("catalog missing EXECUTION signal")
	}

	for _, id := range []string{"ghost", "empty"} {
		dev, err := LoadDevice(context.Background(), mem, id)
		if err != nil || dev != nil {
			t.Errorf("LoadDevice(%q) = %v, %v; want nil, nil", id, dev, err)
		}
	}
}

type failingReader struct{ store.Reader }

func (failingReader) ReadDevice(context.Context, string) (types.Device, error) {
	return types.Device{}, errors.New("connection refused")
}

func TestLoadDevice_CollaboratorFailure(t *testing.T) {
	if _, err := LoadDevice(context.Background(), failingReader{}, "mill-1"); err == nil {
		t.Fatal("LoadDevice() = nil error, want failure")
	}
}

func TestEvent(t *testing.T) {
	cfg, err := rules.Parse([]byte("events:\n  - name: Status\n"))
	if err != nil {
		t.Fatal(err)
	}
	reg := rules.NewStaticRegistry(cfg)

	if ev, ok, err := Event(reg, "status"); err != nil || !ok || ev.Name != "Status" {
		t.Errorf("Event(status) = %v, %v, %v", ev, ok, err)
	}
	if _, ok, err := Event(reg, "Program Status"); err != nil || ok {
		t.Errorf("Event(missing) ok=%v err=%v, want false, nil", ok, err)
	}

	broken := rules.NewRegistry("/nonexistent/events.yaml")
	if _, _, err := Event(broken, "Status"); err == nil {
		t.Error("Event() with unreadable config = nil error")
	}
}
