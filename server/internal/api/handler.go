package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/obsidianstack/analytics/server/internal/auth"
	"github.com/obsidianstack/analytics/server/internal/metrics"
	"github.com/obsidianstack/analytics/server/internal/rules"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the sample store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the collaborators of the HTTP handler.
type Options struct {
	Store   Pinger
	Rules   *rules.Registry
	Metrics *metrics.Metrics
	Auth    auth.Policy

	// WebSocket serves /ws/{module} when set.
	WebSocket http.Handler
}

// Handler serves the REST API.
type Handler struct {
	d    *Dispatcher
	opts Options
}

// New wires the routes over d and wraps them in request ID, access log,
// auth, CORS and panic recovery middleware.
func New(d *Dispatcher, opts Options) http.Handler {
	h := &Handler{d: d, opts: opts}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.HandleFunc("/api/v1/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/admin/rules/reload", h.reloadRules).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/{module}", h.module).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	if opts.WebSocket != nil {
		r.Handle("/ws/{module}", opts.WebSocket).Methods(http.MethodGet)
	}

	var next http.Handler = r
	next = opts.Auth.Middleware(next)
	next = withCORS(next, opts.Auth.Header)
	next = withRequestID(next)
	next = withAccessLog(next)
	return withRecovery(next)
}

// module serves GET /api/v1/{module}.
func (h *Handler) module(w http.ResponseWriter, r *http.Request) {
	call, err := h.d.Resolve(mux.Vars(r)["module"], r.URL.Query())
	if err != nil {
		jsonErr(w, StatusOf(err), err.Error())
		return
	}

	if h.d.Interval(call) > 0 {
		h.stream(w, r, call)
		return
	}

	v, err := h.d.Compute(r.Context(), call)
	switch {
	case err != nil:
		jsonErr(w, StatusOf(err), err.Error())
	case v == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		jsonResp(w, http.StatusOK, v)
	}
}

// stream writes one JSON line per iteration and flushes it, until the client
// goes away or a write fails.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, call Call) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var (
		enc   = json.NewEncoder(w)
		wrote bool
	)
	err := h.d.Stream(r.Context(), call, func(v any) error {
		if !wrote {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
			wrote = true
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})

	var apiErr *Error
	switch {
	case err == nil:
		if !wrote {
			w.WriteHeader(http.StatusNoContent)
		}
	case errors.As(err, &apiErr) && !wrote:
		jsonErr(w, apiErr.Code, err.Error())
	default:
		slog.Info("api: stream closed", "request_id", RequestID(r.Context()),
			"module", call.Module.Name(), "err", err)
	}
}

// health serves GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Modules: h.d.Modules()}
	if h.opts.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		if err := h.opts.Store.Ping(ctx); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			jsonResp(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// reloadRules serves POST /api/v1/admin/rules/reload.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.opts.Rules == nil {
		jsonErr(w, http.StatusNotFound, "rules are not configured")
		return
	}
	err := h.opts.Rules.Reload()
	h.opts.Metrics.RulesReloaded(err)
	if err != nil {
		slog.Error("api: rules reload failed", "request_id", RequestID(r.Context()), "err", err)
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg, err := h.opts.Rules.Config()
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, ReloadResponse{Status: "reloaded", Events: len(cfg.Events)})
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
