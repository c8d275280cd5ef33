package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/obsidianstack/analytics/server/internal/api"
	"github.com/obsidianstack/analytics/server/internal/auth"
	"github.com/obsidianstack/analytics/server/internal/metrics"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/rules"
)

// --- test helpers -----------------------------------------------------------

type stubModule struct {
	name string
	fn   func(q query.Query) (any, error)
}

func (s stubModule) Name() string { return s.name }
func (s stubModule) GetResponse(_ context.Context, q query.Query) (any, error) {
	return s.fn(q)
}

type payload struct {
	Device string `json:"device"`
	N      int64  `json:"n"`
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// counter returns a module whose nth call (from 1) returns payload n.
func counter(name string) stubModule {
	var n atomic.Int64
	return stubModule{name: name, fn: func(q query.Query) (any, error) {
		return payload{Device: q.DeviceID, N: n.Add(1)}, nil
	}}
}

func newRegistry(mods ...module.Module) *module.Registry {
	reg := module.NewRegistry()
	reg.Register(counter("echo"))
	reg.Register(stubModule{name: "empty", fn: func(query.Query) (any, error) { return nil, nil }})
	reg.Register(stubModule{name: "strict", fn: func(query.Query) (any, error) {
		return nil, fmt.Errorf("%w: no status event", module.ErrNotHandled)
	}})
	reg.Register(stubModule{name: "broken", fn: func(query.Query) (any, error) {
		return nil, errors.New("store offline")
	}})
	reg.Register(stubModule{name: "panics", fn: func(query.Query) (any, error) { panic("boom") }})
	for _, m := range mods {
		reg.Register(m)
	}
	return reg
}

func newHandler(opts api.Options, mods ...module.Module) http.Handler {
	d := api.NewDispatcher(newRegistry(mods...), opts.Metrics, time.Millisecond)
	return api.New(d, opts)
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/{module} -------------------------------------------------------

func TestModule_SingleShot(t *testing.T) {
	h := newHandler(api.Options{})
	rr := do(t, h, http.MethodGet, "/api/v1/echo?deviceId=mill-1")

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type: got %q", ct)
	}
	var got payload
	decode(t, rr, &got)
	if got.Device != "mill-1" || got.N != 1 {
		t.Errorf("payload: got %+v", got)
	}
}

func TestModule_StatusMapping(t *testing.T) {
	h := newHandler(api.Options{})
	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"no data", http.MethodGet, "/api/v1/empty?deviceId=d", http.StatusNoContent},
		{"missing device", http.MethodGet, "/api/v1/echo", http.StatusBadRequest},
		{"bad timestamp", http.MethodGet, "/api/v1/echo?deviceId=d&from=yesterday", http.StatusBadRequest},
		{"not handled", http.MethodGet, "/api/v1/strict?deviceId=d", http.StatusBadRequest},
		{"collaborator failure", http.MethodGet, "/api/v1/broken?deviceId=d", http.StatusInternalServerError},
		{"unknown module", http.MethodGet, "/api/v1/nope?deviceId=d", http.StatusNotFound},
		{"module name case", http.MethodGet, "/api/v1/ECHO?deviceId=d", http.StatusOK},
		{"non-GET", http.MethodPost, "/api/v1/echo?deviceId=d", http.StatusMethodNotAllowed},
		{"reload needs POST", http.MethodGet, "/api/v1/admin/rules/reload", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/v2/echo", http.StatusNotFound},
		{"panic", http.MethodGet, "/api/v1/panics?deviceId=d", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, h, tc.method, tc.path)
			if rr.Code != tc.want {
				t.Errorf("status: got %d, want %d (body %s)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestModule_ErrorBody(t *testing.T) {
	rr := do(t, newHandler(api.Options{}), http.MethodGet, "/api/v1/strict?deviceId=d")
	var body map[string]string
	decode(t, rr, &body)
	if !strings.Contains(body["error"], "no status event") {
		t.Errorf("error: got %q", body["error"])
	}
}

func TestRequestID(t *testing.T) {
	h := newHandler(api.Options{})

	rr := do(t, h, http.MethodGet, "/api/v1/echo?deviceId=d")
	if id := rr.Header().Get(api.RequestIDHeader); len(id) != 36 {
		t.Errorf("generated request id: got %q, want a UUID", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/echo?deviceId=d", nil)
	req.Header.Set(api.RequestIDHeader, "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if id := rr.Header().Get(api.RequestIDHeader); id != "abc-123" {
		t.Errorf("echoed request id: got %q, want abc-123", id)
	}
}

// --- streaming --------------------------------------------------------------

func TestModule_StreamsNDJSON(t *testing.T) {
	srv := httptest.NewServer(newHandler(api.Options{}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/echo?deviceId=d&interval=5", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Errorf("content-type: got %q", ct)
	}

	sc := bufio.NewScanner(resp.Body)
	for want := int64(1); want <= 3; want++ {
		if !sc.Scan() {
			t.Fatalf("stream ended after %d lines: %v", want-1, sc.Err())
		}
		var got payload
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %d: %v", want, err)
		}
		if got.N != want {
			t.Errorf("line %d: n = %d", want, got.N)
		}
	}
}

func TestModule_StreamSkipsEmptyIterations(t *testing.T) {
	var calls atomic.Int64
	sparse := stubModule{name: "sparse", fn: func(query.Query) (any, error) {
		if n := calls.Add(1); n%2 == 1 {
			return nil, nil
		}
		return payload{N: calls.Load()}, nil
	}}
	srv := httptest.NewServer(newHandler(api.Options{}, sparse))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/sparse?deviceId=d&interval=5", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	for i := 0; i < 2; i++ {
		if !sc.Scan() {
			t.Fatalf("stream ended early: %v", sc.Err())
		}
		var got payload
		if err := json.Unmarshal(sc.Bytes(), &got); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if got.N%2 != 0 {
			t.Errorf("line %d carries an empty iteration: n = %d", i, got.N)
		}
	}
}

func TestModule_StreamErrorBeforeFirstLine(t *testing.T) {
	rr := do(t, newHandler(api.Options{}), http.MethodGet, "/api/v1/strict?deviceId=d&interval=5")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", rr.Code)
	}
}

func TestDispatcher_IntervalClamp(t *testing.T) {
	d := api.NewDispatcher(newRegistry(), nil, 250*time.Millisecond)
	tests := []struct {
		param string
		want  time.Duration
	}{
		{"0", 0},
		{"-5", 0},
		{"10", 250 * time.Millisecond},
		{"1500", 1500 * time.Millisecond},
	}
	for _, tc := range tests {
		call, err := d.Resolve("echo", map[string][]string{"deviceId": {"d"}, "interval": {tc.param}})
		if err != nil {
			t.Fatalf("Resolve(%s): %v", tc.param, err)
		}
		if got := d.Interval(call); got != tc.want {
			t.Errorf("interval=%s: got %v, want %v", tc.param, got, tc.want)
		}
	}
}

func TestDispatcher_StreamSingleRun(t *testing.T) {
	d := api.NewDispatcher(newRegistry(), nil, time.Millisecond)
	call, err := d.Resolve("echo", map[string][]string{"deviceId": {"d"}})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	var got []any
	if err := d.Stream(context.Background(), call, func(v any) error { got = append(got, v); return nil }); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("emitted %d payloads, want 1", len(got))
	}
}

// --- health, reload, metrics ------------------------------------------------

func TestHealth(t *testing.T) {
	rr := do(t, newHandler(api.Options{Store: pinger{}}), http.MethodGet, "/api/v1/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "ok" || len(resp.Modules) != 5 || resp.Modules[0] != "broken" {
		t.Errorf("health: got %+v", resp)
	}
}

func TestHealth_StoreDown(t *testing.T) {
	rr := do(t, newHandler(api.Options{Store: pinger{err: errors.New("connection refused")}}), http.MethodGet, "/api/v1/health")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}
	var resp api.HealthResponse
	decode(t, rr, &resp)
	if resp.Status != "unavailable" || resp.Error != "connection refused" {
		t.Errorf("health: got %+v", resp)
	}
}

func TestReloadRules(t *testing.T) {
	m := metrics.New()
	reg := rules.NewStaticRegistry(&rules.Config{Events: []rules.Event{{Name: rules.EventStatus}}})
	h := newHandler(api.Options{Rules: reg, Metrics: m})

	rr := do(t, h, http.MethodPost, "/api/v1/admin/rules/reload")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200 (body %s)", rr.Code, rr.Body.String())
	}
	var resp api.ReloadResponse
	decode(t, rr, &resp)
	if resp.Status != "reloaded" || resp.Events != 1 {
		t.Errorf("reload: got %+v", resp)
	}

	rr = do(t, h, http.MethodGet, "/metrics")
	if !strings.Contains(rr.Body.String(), `analytics_rules_reloads_total{result="ok"} 1`) {
		t.Errorf("metrics missing reload counter:\n%s", rr.Body.String())
	}
}

func TestReloadRules_Failure(t *testing.T) {
	reg := rules.NewRegistry("/does/not/exist/events.yaml")
	rr := do(t, newHandler(api.Options{Rules: reg}), http.MethodPost, "/api/v1/admin/rules/reload")
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want 500", rr.Code)
	}
}

func TestMetrics_CountsModuleResponses(t *testing.T) {
	m := metrics.New()
	h := newHandler(api.Options{Metrics: m})
	do(t, h, http.MethodGet, "/api/v1/echo?deviceId=d")
	do(t, h, http.MethodGet, "/api/v1/empty?deviceId=d")

	body := do(t, h, http.MethodGet, "/metrics").Body.String()
	for _, want := range []string{
		`analytics_requests_total{code="200",module="echo"} 1`,
		`analytics_requests_total{code="204",module="empty"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// --- auth -------------------------------------------------------------------

func TestAuth(t *testing.T) {
	h := newHandler(api.Options{Auth: auth.Policy{
		Mode:   auth.ModeAPIKey,
		Header: "X-API-Key",
		Key:    "secret",
		Public: []string{"/api/v1/health"},
	}})

	if rr := do(t, h, http.MethodGet, "/api/v1/echo?deviceId=d"); rr.Code != http.StatusUnauthorized {
		t.Errorf("no key: got %d, want 401", rr.Code)
	}
	if rr := do(t, h, http.MethodGet, "/api/v1/health"); rr.Code != http.StatusOK {
		t.Errorf("public route: got %d, want 200", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/echo?deviceId=d", nil)
	req.Header.Set("X-API-Key", "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("valid key: got %d, want 200", rr.Code)
	}
}
