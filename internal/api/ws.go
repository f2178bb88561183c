package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Update is a live auction state change pushed to websocket subscribers.
type Update struct {
	Type       string    `json:"type"`
	AuctionRef string    `json:"auction_ref"`
	CurrentBid string    `json:"current_bid,omitempty"`
	TotalBids  int       `json:"total_bids,omitempty"`
	EndTime    time.Time `json:"end_time,omitempty"`
	Winner     string    `json:"winner,omitempty"`
}

// Hub fans auction updates out to connected websocket clients. Slow
// clients are dropped rather than blocking the broadcast.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*wsClient
}

type wsClient struct {
	id        uuid.UUID
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func NewHub() *Hub {
	return &Hub{clients: make(map[uuid.UUID]*wsClient)}
}

// Broadcast sends the update to every connected client.
func (h *Hub) Broadcast(u Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		log.Printf("ws hub: failed to marshal update: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Client is not keeping up; let its writer shut down.
			client.close()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id uuid.UUID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"success": false, "error": "live updates disabled"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	s.hub.add(client)

	go client.writeLoop(s.hub)
	go client.readLoop()
}

func (c *wsClient) writeLoop(h *Hub) {
	defer func() {
		h.remove(c.id)
		c.conn.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// readLoop drains inbound frames so the connection processes control
// messages and detects closure.
func (c *wsClient) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
