package relay

import (
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/protocol"
)

// Relay routes a voice-signal envelope to its target identity's
// connection, payload untouched. Signaling is fire-and-forget: an
// absent target drops the envelope silently, no error to the sender.
// A target that fails the enqueue is pruned, same policy as broadcast.
func (h *Hub) Relay(sig protocol.VoiceSignal) {
	conn, ok := h.reg.Lookup(sig.Target)
	if !ok {
		log.Debug().Str("module", "relay.signal").
			Str("from", string(sig.From)).Str("target", string(sig.Target)).
			Str("kind", string(sig.Kind)).
			Msg("target not connected, signal dropped")
		return
	}
	if err := conn.TrySend(protocol.Encode(sig)); err != nil {
		log.Warn().Err(err).Str("module", "relay.signal").
			Str("target", string(sig.Target)).
			Msg("signal enqueue failed, pruning target")
		h.Drop(conn)
	}
}
