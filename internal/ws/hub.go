package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kiwari-pos/engine/internal/notify"
)

// ErrBacklog is returned by Deliver when the hub cannot keep up.
var ErrBacklog = errors.New("ws: broadcast backlog full")

// viewMessage routes an encoded message to one view room.
type viewMessage struct {
	View    string
	Message []byte
}

// Hub keeps one room of clients per view and fans messages out to them.
type Hub struct {
	// Registered clients by view name
	rooms map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	broadcast chan *viewMessage

	// closed when Run returns
	done chan struct{}

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *viewMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It closes every client when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for view, clients := range h.rooms {
				for client := range clients {
					close(client.send)
				}
				delete(h.rooms, view)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.view] == nil {
				h.rooms[client.view] = make(map[*Client]bool)
			}
			h.rooms[client.view][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			h.drop(client)
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[msg.View] {
				select {
				case client.send <- msg.Message:
				default:
					// Slow consumer
					h.drop(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// drop removes client from its room. Caller holds h.mu.
func (h *Hub) drop(client *Client) {
	clients, ok := h.rooms[client.view]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.rooms, client.view)
	}
}

func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Deliver implements notify.Sink.
func (h *Hub) Deliver(view string, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}
	select {
	case h.broadcast <- &viewMessage{View: view, Message: data}:
		return nil
	default:
		return ErrBacklog
	}
}

// Clients returns the number of clients in a view room.
func (h *Hub) Clients(view string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[view])
}
