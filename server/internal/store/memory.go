package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/analytics/pkg/types"
)

// deviceEntry is everything held for one device.
type deviceEntry struct {
	device     types.Device
	components []types.Component
	signals    []types.SignalDefinition
	samples    []types.Sample // sorted by timestamp, ties in insertion order
}

// Memory is a thread-safe in-memory Store keyed by device ID.
// When retention is non-zero a background goroutine (Run) periodically
// evicts samples older than the retention window.
type Memory struct {
	mu        sync.RWMutex
	devices   map[string]*deviceEntry
	retention time.Duration
	now       func() time.Time // injectable for deterministic tests
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty Memory store. A zero retention keeps every sample.
func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		devices:   make(map[string]*deviceEntry),
		retention: retention,
		now:       time.Now,
	}
}

// PutDevice stores or replaces the topology and signal definitions of dev.
// Samples already held for the device are kept.
func (m *Memory) PutDevice(dev types.Device, components []types.Component, signals []types.SignalDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entry(dev.ID)
	e.device = dev
	e.components = append([]types.Component(nil), components...)
	e.signals = append([]types.SignalDefinition(nil), signals...)
}

// entry returns the entry for id, creating it. Callers must hold mu.
func (m *Memory) entry(id string) *deviceEntry {
	e, ok := m.devices[id]
	if !ok {
		e = &deviceEntry{device: types.Device{ID: id}}
		m.devices[id] = e
	}
	return e
}

// ReadDevice implements Reader. Devices known only from samples (never
// described by PutDevice) are reported as not found.
func (m *Memory) ReadDevice(_ context.Context, deviceID string) (types.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[deviceID]
	if !ok || e.device.InstanceID == "" {
		return types.Device{}, fmt.Errorf("%w: device %q", ErrNotFound, deviceID)
	}
	return e.device, nil
}

// ReadComponents implements Reader.
func (m *Memory) ReadComponents(_ context.Context, dev types.Device) ([]types.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[dev.ID]
	if !ok || e.device.InstanceID != dev.InstanceID {
		return nil, nil
	}
	return append([]types.Component(nil), e.components...), nil
}

// ReadSignals implements Reader.
func (m *Memory) ReadSignals(_ context.Context, dev types.Device) ([]types.SignalDefinition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[dev.ID]
	if !ok || e.device.InstanceID != dev.InstanceID {
		return nil, nil
	}
	return append([]types.SignalDefinition(nil), e.signals...), nil
}

// ReadSamples implements Reader.
func (m *Memory) ReadSamples(_ context.Context, q SampleQuery) ([]types.Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.devices[q.DeviceID]
	if !ok {
		return nil, nil
	}
	return Select(e.samples, q), nil
}

// WriteSamples implements Writer. Samples may arrive out of order; each is
// inserted after any existing sample with the same timestamp.
func (m *Memory) WriteSamples(_ context.Context, samples []types.Sample) error {
	for _, s := range samples {
		if s.DeviceID == "" || s.SignalID == "" {
			return fmt.Errorf("store: sample requires device_id and signal_id")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		e := m.entry(s.DeviceID)
		i := sort.Search(len(e.samples), func(i int) bool { return e.samples[i].Timestamp.After(s.Timestamp) })
		e.samples = append(e.samples, types.Sample{})
		copy(e.samples[i+1:], e.samples[i:])
		e.samples[i] = s
	}
	return nil
}

// Ping implements Store. The memory store is always available.
func (m *Memory) Ping(context.Context) error { return nil }

// Count returns the total number of samples held across all devices.
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.devices {
		n += len(e.samples)
	}
	return n
}

// Evict removes samples older than now minus retention, keeping the newest
// sample of each signal so later replays can still be seeded. It returns
// the number of samples removed.
func (m *Memory) Evict(now time.Time) int {
	if m.retention <= 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-m.retention)
	removed := 0
	for _, e := range m.devices {
		newest := make(map[string]int)
		for i, s := range e.samples {
			newest[s.SignalID] = i
		}
		kept := e.samples[:0]
		for i, s := range e.samples {
			if s.Timestamp.Before(cutoff) && newest[s.SignalID] != i {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		e.samples = kept
	}
	return removed
}

// Run starts the background retention loop. It ticks at half the retention
// window (minimum 1 second) and blocks until ctx is cancelled. With no
// retention configured it returns immediately.
func (m *Memory) Run(ctx context.Context) {
	if m.retention <= 0 {
		return
	}
	interval := m.retention / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := m.Evict(m.now()); n > 0 {
				slog.Debug("store: evicted expired samples", "count", n)
			}
		}
	}
}

// seedFile is the YAML layout accepted by LoadSeed.
type seedFile struct {
	Devices []struct {
		types.Device `yaml:",inline"`
		Components   []types.Component        `yaml:"components"`
		Signals      []types.SignalDefinition `yaml:"signals"`
		Samples      []struct {
			SignalID  string    `yaml:"signal_id"`
			Timestamp time.Time `yaml:"timestamp"`
			Value     string    `yaml:"value"`
			Condition string    `yaml:"condition"`
		} `yaml:"samples"`
	} `yaml:"devices"`
}

// LoadSeed reads devices, topology and samples from a YAML file into m.
func (m *Memory) LoadSeed(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("store: read seed %q: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("store: parse seed %q: %w", path, err)
	}
	for _, d := range f.Devices {
		if d.ID == "" || d.InstanceID == "" {
			return fmt.Errorf("store: seed device requires device_id and instance_id")
		}
		m.PutDevice(d.Device, d.Components, d.Signals)
		samples := make([]types.Sample, 0, len(d.Samples))
		for _, s := range d.Samples {
			samples = append(samples, types.Sample{
				DeviceID:  d.ID,
				SignalID:  s.SignalID,
				Timestamp: s.Timestamp,
				Value:     s.Value,
				Condition: s.Condition,
			})
		}
		if err := m.WriteSamples(context.Background(), samples); err != nil {
			return err
		}
	}
	return nil
}
