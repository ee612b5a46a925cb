package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Hub manages websocket subscribers of the task event channel and
// broadcasts every committed change to all of them. Duplicate delivery
// to the originating device is deliberate: clients dedupe by canonical
// identity, and it exercises the same code path as a multi-device race.
type Hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]string // conn -> device id (may be empty)

	broadcast chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewHub creates a hub and starts its broadcast loop.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:   make(map[*websocket.Conn]string),
		broadcast: make(chan []byte, 100),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.wg.Add(1)
	go h.run()
	return h
}

// Close disconnects all clients and stops the broadcast loop.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	for conn := range h.clients {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

// Publish queues an event for delivery to every connected client.
func (h *Hub) Publish(ev any) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("hub: marshal event", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		slog.Warn("hub: broadcast channel full, dropping event")
	}
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			return
		case data := <-h.broadcast:
			h.mu.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mu.RUnlock()

			for _, conn := range conns {
				ctx, cancel := context.WithTimeout(h.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					h.remove(conn)
				}
			}
		}
	}
}

// handleEvents upgrades the connection and keeps it registered until
// the peer goes away.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("hub: websocket upgrade failed", "err", err)
		return
	}

	device := r.Header.Get("X-Device-ID")
	h.mu.Lock()
	h.clients[conn] = device
	count := len(h.clients)
	h.mu.Unlock()
	slog.Debug("hub: client connected", "device", device, "clients", count)

	go h.readLoop(conn)
}

// readLoop drains client frames (none are expected) and detects disconnects.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		count := len(h.clients)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		slog.Debug("hub: client disconnected", "clients", count)
		return
	}
	h.mu.Unlock()
}
