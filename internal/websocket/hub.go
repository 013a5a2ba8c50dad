// Package websocket pushes live monitor events to connected UIs so
// they do not have to poll. One hub fans out typed JSON messages to
// every client; slow clients are dropped rather than allowed to stall
// the mesh pipeline.
package websocket

import (
	"context"
	"sync"

	"meshmon/internal/logger"
)

// Event types carried in Message.Type.
const (
	EventNodeUpdated     = "node_updated"
	EventMessageReceived = "message_received"
	EventAlert           = "alert"
	EventConnection      = "connection"
	EventStatusReport    = "status_report"
)

// broadcastDepth bounds how many pending fan-outs we queue before
// dropping. Every drop is repaired by the next node_updated snapshot.
const broadcastDepth = 64

// Message is the generic envelope sent to clients.
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	log        *logger.Logger
	mu         sync.Mutex
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		broadcast:  make(chan Message, broadcastDepth),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		log:        log.Component("ws"),
	}
}

// Run owns the client set. It exits when ctx is cancelled; the HTTP
// server shutdown closes the underlying connections.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket hub started")
	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket hub shutting down")
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("WebSocket client connected, total: %d", n)
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Info("WebSocket client disconnected, total: %d", n)
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Client's write pump is stuck; cut it loose.
					delete(h.clients, client)
					close(client.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast queues a message for every client. It never blocks the
// caller: when the hub is backed up the message is dropped.
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	select {
	case h.broadcast <- Message{Type: msgType, Payload: payload}:
	default:
		h.log.Debug("Broadcast queue full, dropped %s", msgType)
	}
}

// ClientCount reports how many UIs are attached.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
