package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"relaycast/internal/core/domain"
	"relaycast/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard is served from a different origin than the API.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SnapshotSource provides the current full state for newly connected
// observers and for the reconciliation ticker.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

type connection struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub pushes registry snapshots to all connected observers. Delivery is
// best-effort: a slow or dead observer is dropped on the next send rather
// than ever blocking a broadcast.
type Hub struct {
	source  SnapshotSource
	metrics ports.Metrics

	connections map[*connection]struct{}
	mu          sync.Mutex

	snapshotInterval time.Duration
	pingInterval     time.Duration
	writeTimeout     time.Duration
	pongTimeout      time.Duration

	logger *zap.SugaredLogger
}

type Options struct {
	SnapshotInterval time.Duration
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	PongTimeout      time.Duration
}

func NewHub(metrics ports.Metrics, opts Options, logger *zap.SugaredLogger) *Hub {
	return &Hub{
		metrics:          metrics,
		connections:      make(map[*connection]struct{}),
		snapshotInterval: opts.SnapshotInterval,
		pingInterval:     opts.PingInterval,
		writeTimeout:     opts.WriteTimeout,
		pongTimeout:      opts.PongTimeout,
		logger:           logger,
	}
}

var _ ports.Publisher = (*Hub)(nil)

// BindSource attaches the snapshot source. The hub is constructed before the
// command service because the service broadcasts through it; main binds the
// source once both exist, before serving connections.
func (h *Hub) BindSource(source SnapshotSource) {
	h.mu.Lock()
	h.source = source
	h.mu.Unlock()
}

func (h *Hub) snapshotSource() SnapshotSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Run re-broadcasts the full snapshot on a fixed interval as a consistency
// backstop for observers that missed a push.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			source := h.snapshotSource()
			if source == nil {
				continue
			}
			snap, err := source.Snapshot(ctx)
			if err != nil {
				h.logger.Warnw("reconciliation snapshot failed", "error", err)
				continue
			}
			h.Broadcast(snap)
		case <-ctx.Done():
			return
		}
	}
}

// HandleWebSocket upgrades the request and serves the observer until its
// connection drops.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	conn := &connection{ws: ws, send: make(chan []byte, 16)}

	h.mu.Lock()
	h.connections[conn] = struct{}{}
	count := len(h.connections)
	h.mu.Unlock()

	h.logger.Infow("observer connected", "remote", ws.RemoteAddr().String(), "observers", count)

	// Newly connected observers get the current state immediately.
	if source := h.snapshotSource(); source != nil {
		if snap, err := source.Snapshot(r.Context()); err == nil {
			if data, err := json.Marshal(snap); err == nil {
				conn.send <- data
			}
		}
	}

	go h.writePump(conn)
	h.readPump(conn)
}

func (h *Hub) readPump(conn *connection) {
	defer h.drop(conn)

	conn.ws.SetReadLimit(1024)
	conn.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(h.pongTimeout))
		return nil
	})

	// Observers never send commands over the push channel; reads only serve
	// to detect close and pong frames.
	for {
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Infow("observer read error", "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(conn *connection) {
	pingTicker := time.NewTicker(h.pingInterval)
	defer pingTicker.Stop()
	defer conn.ws.Close()

	for {
		select {
		case data, ok := <-conn.send:
			if !ok {
				return
			}
			conn.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.drop(conn)
				return
			}
		case <-pingTicker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(conn)
				return
			}
		}
	}
}

// Broadcast pushes a snapshot to every connected observer.
func (h *Hub) Broadcast(snapshot *domain.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		h.logger.Errorw("failed to marshal snapshot", "error", err)
		return
	}
	h.fanOut(data)
	h.metrics.RecordBroadcast()
}

// BroadcastEvent pushes an engine notification, such as a dropped scheduled
// stream, over the same channel as state changes.
func (h *Hub) BroadcastEvent(event domain.Event) {
	data, err := json.Marshal(map[string]domain.Event{"event": event})
	if err != nil {
		h.logger.Errorw("failed to marshal event", "error", err)
		return
	}
	h.fanOut(data)
}

func (h *Hub) fanOut(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.connections {
		select {
		case conn.send <- data:
		default:
			// Observer is not keeping up; disconnect it rather than block.
			delete(h.connections, conn)
			close(conn.send)
			conn.ws.Close()
		}
	}
}

func (h *Hub) drop(conn *connection) {
	h.mu.Lock()
	if _, ok := h.connections[conn]; ok {
		delete(h.connections, conn)
		close(conn.send)
	}
	h.mu.Unlock()
	conn.ws.Close()
}

// ObserverCount reports the number of connected observers.
func (h *Hub) ObserverCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}
