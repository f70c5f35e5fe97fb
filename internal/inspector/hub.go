// Package inspector is a debug/spectator bridge: it turns the session
// telemetry stream and a periodic lobby/tick snapshot into a websocket feed
// a dashboard can subscribe to. Nothing in the runtime depends on it —
// sessions run identically with zero clients connected.
package inspector

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nethercore-systems/nethercore/internal/telemetry"
)

const (
	// MaxConnectionsTotal bounds total inspector clients across the process.
	MaxConnectionsTotal = 500
	// MaxConnectionsPerIP bounds concurrent clients from a single address.
	MaxConnectionsPerIP = 10

	broadcastInterval = 200 * time.Millisecond
)

// SnapshotSource supplies the periodic lobby/session snapshot a dashboard
// renders alongside the telemetry event stream. The orchestrator package
// implements this narrow surface without the inspector needing to import
// anything about sandboxes or schedulers directly.
type SnapshotSource interface {
	Snapshot() interface{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}
		log.Printf("inspector: rejected connection from origin %q", origin)
		telemetry.RecordConnectionRejected("origin")
		return false
	},
}

type client struct {
	conn *websocket.Conn
	ip   string
}

// Hub fans out telemetry events and periodic snapshots to connected
// inspector clients, mirroring the teacher's WebSocketHub register/
// unregister/broadcast loop generalized off game state onto session
// telemetry.
type Hub struct {
	clients    map[*websocket.Conn]*client
	broadcast  chan []byte
	register   chan *client
	unregister chan *websocket.Conn
	mu         sync.RWMutex

	limiter *ipConnLimiter
	events  *telemetry.EventLog
	source  SnapshotSource

	stopCh chan struct{}
}

// NewHub constructs an inspector hub that drains events off the given
// EventLog. source may be nil if no snapshot feed is available yet.
func NewHub(events *telemetry.EventLog, source SnapshotSource) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *websocket.Conn),
		limiter:    newIPConnLimiter(MaxConnectionsPerIP),
		events:     events,
		source:     source,
		stopCh:     make(chan struct{}),
	}
}

// Run drives the hub's registration/broadcast loop and the telemetry
// fan-out, blocking until Stop is called.
func (h *Hub) Run() {
	sub := h.events.Subscribe(256)
	defer h.events.Unsubscribe(sub)

	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			h.mu.Unlock()
			telemetry.SetInspectorConnections(len(h.clients))

		case conn := <-h.unregister:
			h.mu.Lock()
			if c, ok := h.clients[conn]; ok {
				h.limiter.release(c.ip)
				delete(h.clients, conn)
				conn.Close()
			}
			h.mu.Unlock()
			telemetry.SetInspectorConnections(len(h.clients))

		case msg := <-h.broadcast:
			h.sendAll(msg)

		case ev := <-sub:
			h.sendAll(encodeFrame("event", ev))

		case <-ticker.C:
			if h.source == nil || h.ClientCount() == 0 {
				continue
			}
			h.sendAll(encodeFrame("snapshot", h.source.Snapshot()))
		}
	}
}

// Stop ends the hub's Run loop.
func (h *Hub) Stop() { close(h.stopCh) }

func encodeFrame(kind string, data interface{}) []byte {
	frame := map[string]interface{}{"type": kind, "data": data}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil
	}
	return b
}

func (h *Hub) sendAll(msg []byte) {
	if msg == nil {
		return
	}
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.unregister <- conn
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket connection and registers it
// with the hub, subject to total and per-IP connection limits.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)

	h.mu.RLock()
	total := len(h.clients)
	h.mu.RUnlock()
	if total >= MaxConnectionsTotal {
		telemetry.RecordConnectionRejected("ws_limit")
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	if !h.limiter.allow(ip) {
		telemetry.RecordConnectionRejected("ws_limit")
		http.Error(w, "too many connections from your address", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.limiter.release(ip)
		return
	}

	c := &client{conn: conn, ip: ip}
	h.register <- c

	go func() {
		defer func() { h.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
