package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/obsidianstack/analytics/server/internal/metrics"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/stream"
)

// Error is a failed module call with the HTTP status it maps to.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return http.StatusInternalServerError
}

// Call is one resolved module request.
type Call struct {
	Module module.Module
	Query  query.Query
}

// Dispatcher resolves module requests and runs them once or periodically.
// It is shared by the HTTP and WebSocket surfaces.
type Dispatcher struct {
	modules     *module.Registry
	metrics     *metrics.Metrics
	minInterval time.Duration
}

// NewDispatcher creates a Dispatcher over modules. Streaming intervals below
// minInterval are raised to it. m may be nil.
func NewDispatcher(modules *module.Registry, m *metrics.Metrics, minInterval time.Duration) *Dispatcher {
	return &Dispatcher{modules: modules, metrics: m, minInterval: minInterval}
}

// Modules returns the registered module names.
func (d *Dispatcher) Modules() []string { return d.modules.Names() }

// Resolve looks up the named module and parses its parameters.
func (d *Dispatcher) Resolve(name string, params url.Values) (Call, error) {
	m, ok := d.modules.Get(name)
	if !ok {
		return Call{}, &Error{Code: http.StatusNotFound, Err: fmt.Errorf("unknown module %q", name)}
	}
	q, err := query.Parse(params)
	if err != nil {
		return Call{}, &Error{Code: http.StatusBadRequest, Err: err}
	}
	return Call{Module: m, Query: q}, nil
}

// Interval returns the streaming interval for c, zero for a single response.
func (d *Dispatcher) Interval(c Call) time.Duration {
	iv := c.Query.Interval
	if iv <= 0 {
		return 0
	}
	if iv < d.minInterval {
		return d.minInterval
	}
	return iv
}

// Compute runs c once. A nil payload with a nil error means no data.
func (d *Dispatcher) Compute(ctx context.Context, c Call) (any, error) {
	start := time.Now()
	v, err := c.Module.GetResponse(ctx, c.Query)

	code := http.StatusOK
	switch {
	case errors.Is(err, module.ErrNotHandled), errors.Is(err, query.ErrInvalid):
		code = http.StatusBadRequest
	case err != nil:
		code = http.StatusInternalServerError
	case v == nil:
		code = http.StatusNoContent
	}
	d.metrics.ObserveRequest(c.Module.Name(), code, time.Since(start))

	log := slog.With("request_id", RequestID(ctx), "module", c.Module.Name(), "device_id", c.Query.DeviceID, "status", code)
	switch code {
	case http.StatusOK:
		log.Debug("api: module response")
	case http.StatusNoContent:
		log.Info("api: no data")
	case http.StatusBadRequest:
		log.Warn("api: request not handled", "err", err)
	default:
		log.Error("api: module failed", "err", err)
	}

	if err != nil {
		return nil, &Error{Code: code, Err: err}
	}
	return v, nil
}

// Stream computes c every Interval(c) and passes each non-nil payload to
// emit, until ctx ends, a computation fails or emit returns an error. With
// no interval it computes once.
func (d *Dispatcher) Stream(ctx context.Context, c Call, emit func(any) error) error {
	closed := d.metrics.StreamOpened()
	defer closed()

	return stream.Run(ctx, d.Interval(c), func(ctx context.Context) error {
		v, err := d.Compute(ctx, c)
		if err != nil {
			return err
		}
		if v == nil {
			return nil
		}
		return emit(v)
	})
}
