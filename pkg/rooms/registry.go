// Package rooms tracks which clients occupy which chat rooms and keeps the
// per-room broadcast log.
//
// All state is guarded by a single mutex; read paths hand out copies so
// callers can iterate without holding the lock. A single registry instance is
// shared by every connection of a server.
package rooms

import "sync"

// ClientID identifies a connected client for the lifetime of its socket.
type ClientID string

// DefaultRoom is the room a client implicitly occupies before any join.
const DefaultRoom int64 = 0

// Registry maintains the client↔room mapping and the per-room message log.
//
// Invariants:
//   - RoomOf(c) == r exactly when c is in members(r).
//   - A client is a member of exactly one room.
//
// Rooms come into existence when first referenced and are never destroyed;
// empty rooms simply linger in the map.
type Registry struct {
	mu      sync.Mutex
	rooms   map[int64][]ClientID
	clients map[ClientID]int64
	logs    map[int64][]string
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[int64][]ClientID),
		clients: make(map[ClientID]int64),
		logs:    make(map[int64][]string),
	}
}

// Join moves client into room, removing it from its previous room.
// Re-joining the current room is a no-op; the client never appears twice.
func (r *Registry) Join(client ClientID, room int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.clients[client]; ok {
		r.rooms[old] = remove(r.rooms[old], client)
	}
	r.clients[client] = room
	if !contains(r.rooms[room], client) {
		r.rooms[room] = append(r.rooms[room], client)
	}
}

// Leave removes client from its room and from the registry entirely.
// Called on disconnect; unknown clients are ignored.
func (r *Registry) Leave(client ClientID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.clients[client]
	if !ok {
		return
	}
	r.rooms[room] = remove(r.rooms[room], client)
	delete(r.clients, client)
}

// RoomOf returns the client's current room, or DefaultRoom if it has not
// joined one. Clients that never sent JoinRoom broadcast into room 0.
func (r *Registry) RoomOf(client ClientID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.clients[client]
	if !ok {
		return DefaultRoom
	}
	return room
}

// MembersOf returns a copy of the member list of the client's current room,
// including the client itself when present. Safe to iterate without the lock.
func (r *Registry) MembersOf(client ClientID) []ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()

	return snapshot(r.rooms[r.roomLocked(client)])
}

// Publish appends message to the log of the sender's current room and returns
// a snapshot of that room's members. Log append and member snapshot happen
// under one lock acquisition so broadcasts observe a consistent room state.
func (r *Registry) Publish(sender ClientID, message string) []ClientID {
	r.mu.Lock()
	defer r.mu.Unlock()

	room := r.roomLocked(sender)
	r.logs[room] = append(r.logs[room], message)
	return snapshot(r.rooms[room])
}

// Messages returns a copy of the room's broadcast log, oldest first.
func (r *Registry) Messages(room int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.logs[room]))
	copy(out, r.logs[room])
	return out
}

func (r *Registry) roomLocked(client ClientID) int64 {
	room, ok := r.clients[client]
	if !ok {
		return DefaultRoom
	}
	return room
}

func snapshot(members []ClientID) []ClientID {
	out := make([]ClientID, len(members))
	copy(out, members)
	return out
}

func contains(members []ClientID, c ClientID) bool {
	for _, m := range members {
		if m == c {
			return true
		}
	}
	return false
}

func remove(members []ClientID, c ClientID) []ClientID {
	for i, m := range members {
		if m == c {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}
