package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
)

// Broadcast fans env out to every member of room, optionally skipping
// one identity. Enqueues for a single room happen under a per-room
// lock, so every live member sees broadcasts in the same relative
// order. The registry mutex is never held while enqueuing, and the
// enqueue itself never blocks, so one slow peer cannot stall the rest.
//
// A member whose queue is full or whose connection is closed is pruned
// after the lock is released, which emits its own "left" announcement.
func (h *Hub) Broadcast(room domain.RoomID, env protocol.Envelope, exclude domain.UserID) {
	data := protocol.Encode(env)

	lk := h.roomLock(room)
	lk.Lock()
	var failed []*Conn
	sent := 0
	for _, conn := range h.reg.MembersOf(room) {
		if exclude != "" && conn.Identity().ID == exclude {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			failed = append(failed, conn)
			continue
		}
		sent++
	}
	lk.Unlock()

	log.Debug().Str("module", "relay.hub").
		Str("room", string(room)).Int("sent", sent).Int("dropped", len(failed)).
		Msg("broadcast")

	for _, conn := range failed {
		log.Warn().Str("module", "relay.hub").
			Str("room", string(room)).Str("user", string(conn.Identity().ID)).
			Msg("pruning unreachable member")
		h.Drop(conn)
	}
}

// Drop removes a connection that failed or lost its transport. Scoped
// to the exact connection so a concurrent reconnect by the same
// identity survives; dropping an already-replaced connection is a
// no-op. A real removal announces the departure.
func (h *Hub) Drop(conn *Conn) {
	room, ok := h.reg.LeaveConn(conn)
	if !ok {
		return
	}
	conn.Close()
	h.announce(room, protocol.PresenceLeft, conn.Identity())
}
