package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/domain"
)

// Registry holds the two live-session indices. Both are mutated under
// one mutex, so no reader ever observes a half-updated pair: a
// connection reachable by room is reachable by identity and vice versa.
//
// The registry trusts its caller's room-existence check; it never talks
// to the store.
type Registry struct {
	mu         sync.Mutex
	rooms      map[domain.RoomID]map[*Conn]struct{}
	byIdentity map[domain.UserID]*Conn
	roomOf     map[*Conn]domain.RoomID
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:      make(map[domain.RoomID]map[*Conn]struct{}),
		byIdentity: make(map[domain.UserID]*Conn),
		roomOf:     make(map[*Conn]domain.RoomID),
	}
}

// Eviction reports a prior connection displaced by Join, along with the
// room it was in. The caller owns closing it and announcing the leave.
type Eviction struct {
	Conn *Conn
	Room domain.RoomID
}

// Join registers conn in room. If the identity already has a live
// connection it is removed from both indices first (last-writer-wins)
// and returned so the caller can close it. The swap is atomic: there is
// no window where the identity has zero or two reachable entries.
func (r *Registry) Join(conn *Conn, room domain.RoomID) *Eviction {
	id := conn.Identity().ID

	r.mu.Lock()
	var evicted *Eviction
	if prev, ok := r.byIdentity[id]; ok && prev != conn {
		evicted = &Eviction{Conn: prev, Room: r.roomOf[prev]}
		r.remove(prev)
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Conn]struct{})
	}
	r.rooms[room][conn] = struct{}{}
	r.byIdentity[id] = conn
	r.roomOf[conn] = room
	r.mu.Unlock()

	log.Info().Str("module", "relay.registry").
		Str("user", string(id)).Str("room", string(room)).
		Bool("evicted_prior", evicted != nil).
		Msg("joined")
	return evicted
}

// Leave removes the identity's connection from both indices and returns
// it with the room it was in. Idempotent: a second call is a no-op.
func (r *Registry) Leave(id domain.UserID) (domain.RoomID, *Conn, bool) {
	r.mu.Lock()
	conn, ok := r.byIdentity[id]
	if !ok {
		r.mu.Unlock()
		return "", nil, false
	}
	room := r.roomOf[conn]
	r.remove(conn)
	r.mu.Unlock()

	log.Info().Str("module", "relay.registry").
		Str("user", string(id)).Str("room", string(room)).
		Msg("left")
	return room, conn, true
}

// LeaveConn removes exactly this connection, refusing to touch a newer
// connection that may have replaced it for the same identity. Used when
// pruning a failed send, where the registry may have moved on.
func (r *Registry) LeaveConn(conn *Conn) (domain.RoomID, bool) {
	id := conn.Identity().ID

	r.mu.Lock()
	current, ok := r.byIdentity[id]
	if !ok || current != conn {
		r.mu.Unlock()
		return "", false
	}
	room := r.roomOf[conn]
	r.remove(conn)
	r.mu.Unlock()

	log.Info().Str("module", "relay.registry").
		Str("user", string(id)).Str("room", string(room)).
		Msg("left")
	return room, true
}

// remove deletes conn from all three maps. Caller holds r.mu.
func (r *Registry) remove(conn *Conn) {
	id := conn.Identity().ID
	if room, ok := r.roomOf[conn]; ok {
		delete(r.rooms[room], conn)
		if len(r.rooms[room]) == 0 {
			delete(r.rooms, room)
		}
	}
	delete(r.roomOf, conn)
	delete(r.byIdentity, id)
}

// MembersOf returns a point-in-time copy of a room's membership, so
// broadcast iteration is never affected by concurrent join/leave.
func (r *Registry) MembersOf(room domain.RoomID) []*Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	members := r.rooms[room]
	out := make([]*Conn, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

// Lookup finds the live connection for an identity, if any.
func (r *Registry) Lookup(id domain.UserID) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byIdentity[id]
	return c, ok
}

// RoomOf returns the room a connection is currently joined to.
func (r *Registry) RoomOf(conn *Conn) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.roomOf[conn]
	return room, ok
}
