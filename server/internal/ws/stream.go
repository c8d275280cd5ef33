package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/obsidianstack/analytics/server/internal/api"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16
)

var errSlowClient = errors.New("ws: client send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler upgrades /ws/{module} requests and streams the module's responses.
type Handler struct {
	d *api.Dispatcher
}

// New creates a Handler that resolves and runs modules through d.
func New(d *api.Dispatcher) *Handler {
	return &Handler{d: d}
}

// client is one connected WebSocket peer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// ServeHTTP resolves the module, upgrades the connection and streams until
// the client disconnects or the computation fails. It blocks until the
// connection is closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	call, err := h.d.Resolve(mux.Vars(r)["module"], r.URL.Query())
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(api.StatusOf(err))
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}) //nolint:errcheck
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	log := slog.With("request_id", api.RequestID(r.Context()), "module", call.Module.Name(), "device_id", call.Query.DeviceID)
	log.Info("ws: client connected", "interval", h.d.Interval(call))

	c := &client{conn: conn, send: make(chan []byte, sendBufSize)}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	written := make(chan struct{})
	go func() {
		c.writePump()
		close(written)
	}()
	go func() {
		c.readPump()
		cancel()
	}()

	err = h.d.Stream(ctx, call, func(v any) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		select {
		case c.send <- data:
			return nil
		default:
			return errSlowClient
		}
	})
	if err != nil && ctx.Err() == nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			if data, mErr := json.Marshal(map[string]string{"error": err.Error()}); mErr == nil {
				select {
				case c.send <- data:
				default:
				}
			}
		}
		log.Info("ws: stream stopped", "err", err)
	}

	close(c.send)
	<-written
	log.Info("ws: client disconnected")
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. When send is
// closed it writes a normal close frame and closes the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection to process control messages (pong,
// close) and detect disconnects. Blocks until the connection closes.
func (c *client) readPump() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
