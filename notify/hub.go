// Package notify streams order events to connected websocket clients.
// Every client joins the room of its own user id; administrators also join
// AdminRoom and see every event.
package notify

import (
	"encoding/json"
	"log"
	"sync"

	"emporium/models"
)

const AdminRoom = "admins"

type Client struct {
	Send   chan []byte
	Rooms  []string
	UserID string
}

type broadcastMsg struct {
	Rooms []string
	Data  []byte
}

type Hub struct {
	rooms      map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	stopOnce   sync.Once
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			for _, room := range c.Rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]bool)
				}
				h.rooms[room][c] = true
			}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			sent := make(map[*Client]bool)
			for _, room := range m.Rooms {
				for c := range h.rooms[room] {
					if sent[c] {
						continue
					}
					sent[c] = true
					select {
					case c.Send <- m.Data:
					default:
						// slow consumer
						h.drop(c)
					}
				}
			}
			h.mu.Unlock()

		case <-h.quit:
			h.mu.Lock()
			for _, conns := range h.rooms {
				for c := range conns {
					h.drop(c)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// drop removes c from all of its rooms and closes Send once. Caller holds mu.
func (h *Hub) drop(c *Client) {
	present := false
	for _, room := range c.Rooms {
		if conns := h.rooms[room]; conns != nil && conns[c] {
			present = true
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	if present {
		close(c.Send)
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.quit:
		close(c.Send)
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Publish fans an order event out to its owner and to administrators.
func (h *Hub) Publish(ev models.OrderEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("notify: marshal event: %v", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{Rooms: []string{ev.UserID, AdminRoom}, Data: data}:
	case <-h.quit:
	}
}

// ClientCount returns the number of distinct connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	seen := make(map[*Client]bool)
	for _, conns := range h.rooms {
		for c := range conns {
			seen[c] = true
		}
	}
	return len(seen)
}
