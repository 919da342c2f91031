package dashboard

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/motordash/internal/engine"
	"codeberg.org/mutker/motordash/internal/errors"
	"codeberg.org/mutker/motordash/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxClientFrame = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// SnapshotSource publishes engine snapshots.
type SnapshotSource interface {
	Snapshot() engine.Snapshot
	Subscribe() (<-chan engine.Snapshot, func())
}

// Hub fans engine snapshots out to WebSocket clients. Only the Run
// goroutine writes to connections.
type Hub struct {
	source     SnapshotSource
	clients    map[*websocket.Conn]struct{}
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	running    atomic.Bool
	logger     logger.Logger

	mu    sync.Mutex
	count int
}

func NewHub(source SnapshotSource) *Hub {
	return &Hub{
		source:     source,
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger.Component("hub"),
	}
}

// Run broadcasts snapshots until ctx is cancelled or the engine stops
// publishing. All client connections are closed on return.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	updates, unsubscribe := h.source.Subscribe()
	defer unsubscribe()
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return

		case conn := <-h.register:
			h.clients[conn] = struct{}{}
			h.setCount(len(h.clients))
			h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Int("clients", len(h.clients)).Msg("Client connected")
			h.write(conn, h.source.Snapshot())

		case conn := <-h.unregister:
			h.drop(conn)

		case snap, ok := <-updates:
			if !ok {
				h.logger.Debug().Msg("Snapshot stream closed")
				return
			}
			for conn := range h.clients {
				h.write(conn, snap)
			}
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// ServeWS upgrades the request and registers the connection. Incoming
// frames are read only to detect disconnects. Requests are refused with
// 503 while the hub is not running.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.running.Load() {
		http.Error(w, errors.New().WithMessage(errors.ErrUnavailable, "snapshot stream not running").Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxClientFrame)

	select {
	case h.register <- conn:
	case <-h.done:
		conn.Close()
		return
	case <-time.After(writeWait):
		h.logger.Warn().Msg("Snapshot hub not accepting clients, closing connection")
		conn.Close()
		return
	}

	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug().Err(err).Msg("WebSocket read failed")
				}
				break
			}
		}

		select {
		case h.unregister <- conn:
		case <-h.done:
		}
	}()
}

func (h *Hub) write(conn *websocket.Conn, snap engine.Snapshot) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(snap); err != nil {
		h.logger.Debug().Err(err).Msg("Dropping client after write failure")
		h.drop(conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	if _, ok := h.clients[conn]; !ok {
		return
	}
	delete(h.clients, conn)
	conn.Close()
	h.setCount(len(h.clients))
	h.logger.Debug().Int("clients", len(h.clients)).Msg("Client disconnected")
}

func (h *Hub) closeAll() {
	h.running.Store(false)
	close(h.done)
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		delete(h.clients, conn)
	}
	h.setCount(0)
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}
