package relay

import (
	"sync"
	"time"

	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
)

// Hub coordinates the registry with presence announcements, room
// fan-out, and targeted signal relay. One Hub serves the whole process;
// it is dependency-injected, never ambient.
type Hub struct {
	reg *Registry
	now func() time.Time

	mu        sync.Mutex
	roomLocks map[domain.RoomID]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		reg:       NewRegistry(),
		now:       time.Now,
		roomLocks: make(map[domain.RoomID]*sync.Mutex),
	}
}

func (h *Hub) Registry() *Registry { return h.reg }

// Join registers the connection and announces it. If the identity had a
// prior live connection anywhere, that connection is closed and its
// room hears a "left" before the new room hears a "joined". The joined
// announcement goes to the post-join membership, joiner included.
func (h *Hub) Join(conn *Conn, room domain.RoomID) {
	if evicted := h.reg.Join(conn, room); evicted != nil {
		evicted.Conn.Close()
		h.announce(evicted.Room, protocol.PresenceLeft, evicted.Conn.Identity())
	}
	h.announce(room, protocol.PresenceJoined, conn.Identity())
}

// Leave removes the identity's connection, closes it, and announces the
// departure to the room it was in. Calling it for an identity that is
// not joined is a no-op: no event is emitted.
func (h *Hub) Leave(id domain.UserID) {
	room, conn, ok := h.reg.Leave(id)
	if !ok {
		return
	}
	conn.Close()
	h.announce(room, protocol.PresenceLeft, conn.Identity())
}

func (h *Hub) announce(room domain.RoomID, kind protocol.PresenceKind, who domain.Identity) {
	h.Broadcast(room, protocol.Presence{
		Kind:        kind,
		User:        who.ID,
		DisplayName: who.DisplayName,
		Timestamp:   h.now(),
	}, "")
}

// roomLock is the per-room ordering point for broadcasts. Locks are
// never removed; the map grows with distinct rooms seen, not members.
func (h *Hub) roomLock(room domain.RoomID) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lk, ok := h.roomLocks[room]
	if !ok {
		lk = &sync.Mutex{}
		h.roomLocks[room] = lk
	}
	return lk
}
