package ws_test

import (
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

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/analytics/server/internal/api"
	"github.com/obsidianstack/analytics/server/internal/module"
	"github.com/obsidianstack/analytics/server/internal/query"
	"github.com/obsidianstack/analytics/server/internal/ws"
)

// --- helpers ----------------------------------------------------------------

type stubModule struct {
	name string
	fn   func(q query.Query) (any, error)
}

func (s stubModule) Name() string { return s.name }
func (s stubModule) GetResponse(_ context.Context, q query.Query) (any, error) {
	return s.fn(q)
}

type frame struct {
	Device string `json:"device"`
	N      int64  `json:"n"`
	Error  string `json:"error"`
}

// startServer serves the ws handler through the API router so /ws/{module}
// resolves exactly as in production. It returns the ws:// base URL.
func startServer(t *testing.T) string {
	t.Helper()

	var n atomic.Int64
	reg := module.NewRegistry()
	reg.Register(stubModule{name: "echo", fn: func(q query.Query) (any, error) {
		return frame{Device: q.DeviceID, N: n.Add(1)}, nil
	}})
	reg.Register(stubModule{name: "empty", fn: func(query.Query) (any, error) { return nil, nil }})

	var strictCalls atomic.Int64
	reg.Register(stubModule{name: "flaky", fn: func(query.Query) (any, error) {
		if strictCalls.Add(1) > 1 {
			return nil, fmt.Errorf("%w: status event removed", module.ErrNotHandled)
		}
		return frame{N: 1}, nil
	}})
	reg.Register(stubModule{name: "broken", fn: func(query.Query) (any, error) {
		return nil, errors.New("store offline")
	}})

	d := api.NewDispatcher(reg, nil, time.Millisecond)
	srv := httptest.NewServer(api.New(d, api.Options{WebSocket: ws.New(d)}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		code := 0
		if resp != nil {
			code = resp.StatusCode
		}
		t.Fatalf("dial %s: %v (status %d)", url, err, code)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("frame type: got %d, want text", typ)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("decode frame %q: %v", data, err)
	}
	return f
}

func expectNormalClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

// --- tests ------------------------------------------------------------------

func TestSingleFrameThenClose(t *testing.T) {
	base := startServer(t)
	conn := dial(t, base+"/ws/echo?deviceId=mill-1")

	f := readFrame(t, conn)
	if f.Device != "mill-1" || f.N != 1 {
		t.Errorf("frame: got %+v", f)
	}
	expectNormalClose(t, conn)
}

func TestPeriodicFrames(t *testing.T) {
	base := startServer(t)
	conn := dial(t, base+"/ws/echo?deviceId=d&interval=5")

	for want := int64(1); want <= 3; want++ {
		if f := readFrame(t, conn); f.N != want {
			t.Errorf("frame %d: n = %d", want, f.N)
		}
	}
}

func TestNoDataClosesWithoutFrames(t *testing.T) {
	base := startServer(t)
	conn := dial(t, base+"/ws/empty?deviceId=d")
	expectNormalClose(t, conn)
}

func TestFailureAfterUpgradeSendsErrorFrame(t *testing.T) {
	base := startServer(t)
	conn := dial(t, base+"/ws/flaky?deviceId=d&interval=5")

	if f := readFrame(t, conn); f.N != 1 {
		t.Errorf("first frame: got %+v", f)
	}
	f := readFrame(t, conn)
	if !strings.Contains(f.Error, "status event removed") {
		t.Errorf("error frame: got %+v", f)
	}
	expectNormalClose(t, conn)
}

func TestCollaboratorFailureSendsErrorFrame(t *testing.T) {
	base := startServer(t)
	conn := dial(t, base+"/ws/broken?deviceId=d")

	if f := readFrame(t, conn); !strings.Contains(f.Error, "store offline") {
		t.Errorf("error frame: got %+v", f)
	}
	expectNormalClose(t, conn)
}

func TestRejectedBeforeUpgrade(t *testing.T) {
	base := startServer(t)
	tests := []struct {
		path string
		want int
	}{
		{"/ws/nope?deviceId=d", http.StatusNotFound},
		{"/ws/echo", http.StatusBadRequest},
	}
	for _, tc := range tests {
		_, resp, err := websocket.DefaultDialer.Dial(base+tc.path, nil)
		if err == nil {
			t.Errorf("%s: dial succeeded, want rejection", tc.path)
			continue
		}
		if resp == nil || resp.StatusCode != tc.want {
			t.Errorf("%s: got %v, want status %d", tc.path, resp, tc.want)
		}
	}
}
