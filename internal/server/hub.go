package server

import (
	"sync"

	"github.com/charmbracelet/log"

	"github.com/lox/blackjack/internal/room"
)

// Hub fans room events out to the connections seated in each room. It is
// registered as a subscriber on every room.
type Hub struct {
	logger *log.Logger

	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		logger: logger.WithPrefix("hub"),
		rooms:  make(map[string]map[*Connection]struct{}),
	}
}

// Add starts forwarding roomName's events to c.
func (h *Hub) Add(roomName string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[roomName]
	if !ok {
		conns = make(map[*Connection]struct{})
		h.rooms[roomName] = conns
	}
	conns[c] = struct{}{}
}

// Remove stops forwarding roomName's events to c.
func (h *Hub) Remove(roomName string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[roomName]
	if !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.rooms, roomName)
	}
}

// Count returns the number of connections listening to roomName.
func (h *Hub) Count(roomName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomName])
}

// OnEvent implements room.EventSubscriber.
func (h *Hub) OnEvent(e room.Event) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[e.RoomName()]))
	for c := range h.rooms[e.RoomName()] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	msg, err := EventMessage(e)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", e.EventType(), "room", e.RoomName(), "error", err)
		return
	}

	sent := 0
	for _, c := range conns {
		if err := c.SendMessage(msg); err != nil {
			h.logger.Debug("Failed to send event", "nickname", c.Nickname(), "type", e.EventType(), "error", err)
			continue
		}
		sent++
	}
	if e.EventType() != room.EventTick {
		h.logger.Debug("Broadcast event", "room", e.RoomName(), "type", e.EventType(), "recipients", sent)
	}
}
