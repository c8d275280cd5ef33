package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/obsidianstack/analytics/pkg/types"
	"github.com/obsidianstack/analytics/server/internal/rules"
	"github.com/obsidianstack/analytics/server/internal/store"
)

// Device is a device's current instance with its indexed signal catalog.
type Device struct {
	types.Device
	Catalog *rules.Catalog
}

// LoadDevice reads the device, its components and its signal definitions.
// It returns nil without error when the device is unknown or has no signals.
func LoadDevice(ctx context.Context, r store.Reader, deviceID string) (*Device, error) {
	dev, err := r.ReadDevice(ctx, deviceID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Info("module: device not found", "device_id", deviceID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("module: load device: %w", err)
	}

	signals, err := r.ReadSignals(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("module: load signals: %w", err)
	}
	if len(signals) == 0 {
		slog.Info("module: device has no signals", "device_id", deviceID, "instance_id", dev.InstanceID)
		return nil, nil
	}
	components, err := r.ReadComponents(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("module: load components: %w", err)
	}
	return &Device{Device: dev, Catalog: rules.NewCatalog(signals, components)}, nil
}

// Event returns the named rule event from reg. A missing event is reported
// as ok == false; an unreadable configuration as an error.
func Event(reg *rules.Registry, name string) (ev *rules.Event, ok bool, err error) {
	ev, err = reg.Event(name)
	if errors.Is(err, rules.ErrEventNotFound) {
		slog.Info("module: rule event not configured", "event", name)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("module: rules: %w", err)
	}
	return ev, true, nil
}
