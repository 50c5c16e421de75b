package ws

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// client is one connected event socket consumer
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex // Protects concurrent writes to this connection
}

func (c *client) send(messageType int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, payload)
}

// Hub fans run lifecycle messages out to connected WebSocket clients.
// All connected clients see the same event stream; there is at most one
// run in flight at a time.
type Hub struct {
	clients map[string]*client
	mu      sync.RWMutex
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
	}
}

// Register adds a connection and returns its client id
func (h *Hub) Register(conn *websocket.Conn) string {
	id := uuid.New().String()

	h.mu.Lock()
	h.clients[id] = &client{conn: conn}
	total := len(h.clients)
	h.mu.Unlock()

	log.Printf("[WS] client %s connected (total: %d)", id, total)
	return id
}

// Unregister removes a connection by client id
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		log.Printf("[WS] client %s disconnected (total: %d)", id, total)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ping keeps the client's connection alive; the caller drops the client
// on error
func (h *Hub) ping(id string) error {
	h.mu.RLock()
	cl, ok := h.clients[id]
	h.mu.RUnlock()

	if !ok {
		return errors.New("client not registered")
	}
	return cl.send(websocket.PingMessage, nil)
}

// Broadcast sends raw bytes to every client. Clients that fail to accept
// the write are dropped.
func (h *Hub) Broadcast(message []byte) {
	h.mu.RLock()
	snapshot := make(map[string]*client, len(h.clients))
	for id, cl := range h.clients {
		snapshot[id] = cl
	}
	h.mu.RUnlock()

	for id, cl := range snapshot {
		if err := cl.send(websocket.TextMessage, message); err != nil {
			log.Printf("[WS] dropping client %s: %v", id, err)
			h.Unregister(id)
			cl.conn.Close()
		}
	}
}

// BroadcastMessage marshals and broadcasts a run event message
func (h *Hub) BroadcastMessage(msg *Message) {
	if h.ClientCount() == 0 {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WS] failed to marshal %s message: %v", msg.Type, err)
		return
	}
	h.Broadcast(data)
}
