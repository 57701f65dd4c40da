package websocket

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ammar1510/tripchat/internal/metrics"
)

// Hub is the room registry: which connection is in which trip room. A
// connection is in at most one room. All queue writes happen under mu so a
// send can never race with the queue being closed.
type Hub struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	rooms   map[uuid.UUID]map[*Client]struct{}
	closed  bool
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[uuid.UUID]map[*Client]struct{}),
	}
}

// Register adds an idle connection. It fails once the hub is closed.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	log.Debug("Registered connection %s for user %s", c.ID, c.UserID)
	return true
}

// Join moves c into tripID's room, leaving its previous room first. It
// returns the room that was left (uuid.Nil if none) and whether anything
// changed; joining the room c is already in changes nothing.
func (h *Hub) Join(c *Client, tripID uuid.UUID) (previous uuid.UUID, changed bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return uuid.Nil, false
	}
	if c.room == tripID {
		return uuid.Nil, false
	}

	previous = c.room
	if previous != uuid.Nil {
		h.leaveLocked(c, previous)
	}

	room, ok := h.rooms[tripID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[tripID] = room
	}
	room[c] = struct{}{}
	c.room = tripID
	return previous, true
}

// Leave takes c out of tripID's room. It reports false when c was not in
// that room.
func (h *Hub) Leave(c *Client, tripID uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tripID == uuid.Nil || c.room != tripID {
		return false
	}
	h.leaveLocked(c, tripID)
	return true
}

func (h *Hub) leaveLocked(c *Client, tripID uuid.UUID) {
	if room, ok := h.rooms[tripID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, tripID)
		}
	}
	c.room = uuid.Nil
}

// Remove unregisters c and closes its queue. It returns the room c was in.
func (h *Hub) Remove(c *Client) uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return uuid.Nil
	}
	room := c.room
	if room != uuid.Nil {
		h.leaveLocked(c, room)
	}
	delete(h.clients, c)
	h.closeLocked(c)
	log.Debug("Removed connection %s for user %s", c.ID, c.UserID)
	return room
}

func (h *Hub) closeLocked(c *Client) {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueueLocked never blocks. A connection whose queue is full is cut off:
// its queue is closed so the writer hangs up, and the reader's exit removes
// it from its room as a normal disconnect.
func (h *Hub) enqueueLocked(c *Client, frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		log.Warn("Send queue full for connection %s (user %s), dropping connection", c.ID, c.UserID)
		metrics.BroadcastDrops.Inc()
		h.closeLocked(c)
		return false
	}
}

// Send queues a frame for one connection.
func (h *Hub) Send(c *Client, frame []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enqueueLocked(c, frame)
}

// Broadcast queues frame for every connection in tripID's room except
// except, which may be nil. It returns the number of connections reached.
func (h *Hub) Broadcast(tripID uuid.UUID, frame []byte, except *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for c := range h.rooms[tripID] {
		if c == except {
			continue
		}
		if h.enqueueLocked(c, frame) {
			delivered++
		}
	}
	return delivered
}

// Occupants lists the connections currently in tripID's room.
func (h *Hub) Occupants(tripID uuid.UUID) []*Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]*Client, 0, len(h.rooms[tripID]))
	for c := range h.rooms[tripID] {
		out = append(out, c)
	}
	return out
}

// RoomOf returns the room c is in, or uuid.Nil.
func (h *Hub) RoomOf(c *Client) uuid.UUID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return c.room
}

// Connections is the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close closes every connection's queue and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		c.room = uuid.Nil
		h.closeLocked(c)
	}
	h.clients = make(map[*Client]struct{})
	h.rooms = make(map[uuid.UUID]map[*Client]struct{})
	log.Info("Hub closed")
}
