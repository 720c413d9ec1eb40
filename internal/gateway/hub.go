package gateway

import "sync"

// hub indexes live clients and room subscriptions on this node.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]*client
	joined  map[string]map[string]struct{} // conn id -> room ids
}

func newHub() *hub {
	return &hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]*client),
		joined:  make(map[string]map[string]struct{}),
	}
}

func (h *hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.connID] = c
}

// remove drops the client and all of its subscriptions.
func (h *hub) remove(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range h.joined[connID] {
		members := h.rooms[room]
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(h.joined, connID)
	delete(h.clients, connID)
}

func (h *hub) get(connID string) *client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connID]
}

// join subscribes a registered client; unknown connection ids are ignored.
func (h *hub) join(connID, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*client)
		h.rooms[room] = members
	}
	members[connID] = c

	rooms, ok := h.joined[connID]
	if !ok {
		rooms = make(map[string]struct{})
		h.joined[connID] = rooms
	}
	rooms[room] = struct{}{}
	return true
}

func (h *hub) leave(connID, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if rooms, ok := h.joined[connID]; ok {
		delete(rooms, room)
	}
}

func (h *hub) inRoom(connID, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][connID]
	return ok
}

// broadcast enqueues frame to every subscriber of room. The write lock makes
// concurrent broadcasts to one room reach all subscribers in the same order.
func (h *hub) broadcast(room string, frame []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for _, c := range h.rooms[room] {
		if c.enqueue(frame) {
			n++
		}
	}
	return n
}

// broadcastAll enqueues frame to every client except skip.
func (h *hub) broadcastAll(frame []byte, skip string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		if id == skip {
			continue
		}
		c.enqueue(frame)
	}
}

func (h *hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) roomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
