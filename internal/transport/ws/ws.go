package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
	"github.com/termchat/termchat/internal/relay"
	"github.com/termchat/termchat/internal/store"
)

// Close codes mirror the HTTP refusal categories so a client can tell
// a bad credential from a membership problem.
const (
	closeUnauthorized = 4001
	closeForbidden    = 4003
	closeRoomNotFound = 4004
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS is the relay entry point: credential check, room checks,
// registry join, then a read/write pump pair until the link dies.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.ws").Msg("ws upgrade")
		return
	}

	ctx := c.Request.Context()
	ident, err := s.auth.Authenticate(ctx, c.Query("token"))
	if err != nil {
		closeWith(conn, closeUnauthorized, "unauthorized")
		return
	}

	roomID := domain.RoomID(c.Param("room"))
	exists, err := s.store.RoomExists(ctx, roomID)
	if err != nil || !exists {
		closeWith(conn, closeRoomNotFound, "room not found")
		return
	}
	member, err := s.store.IsMember(ctx, ident.ID, roomID)
	if err != nil || !member {
		closeWith(conn, closeForbidden, "not a member of this room")
		return
	}

	log.Info().Str("module", "transport.ws").
		Str("user", string(ident.ID)).Str("name", ident.DisplayName).
		Str("room", string(roomID)).
		Msg("connection established")

	sess := relay.NewConn(ident, s.cfg.SendQueue)
	s.hub.Join(sess, roomID)

	conn.SetReadLimit(s.cfg.ReadLimit)
	go s.writePump(conn, sess)
	s.readPump(conn, sess, roomID)
}

// readPump drives the connection: every inbound frame is decoded and
// dispatched; the first read error ends the session and triggers
// registry cleanup plus the "left" announcement.
func (s *Server) readPump(conn *websocket.Conn, sess *relay.Conn, room domain.RoomID) {
	defer func() {
		s.hub.Drop(sess)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Str("module", "transport.ws").
				Str("user", string(sess.Identity().ID)).
				Msg("read loop ended")
			return
		}
		s.dispatch(sess, room, data)
	}
}

// writePump drains the outbound queue onto the wire and keeps the link
// alive with pings. It owns closing the websocket, which in turn ends
// the read loop.
func (s *Server) writePump(conn *websocket.Conn, sess *relay.Conn) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case data, ok := <-sess.Outbound():
			if !ok {
				// Closed by the relay: eviction or explicit leave.
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one decoded envelope. A malformed frame is logged and
// skipped; the connection stays up.
func (s *Server) dispatch(sess *relay.Conn, room domain.RoomID, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "transport.ws").
			Str("user", string(sess.Identity().ID)).
			Msg("malformed frame, skipping")
		return
	}

	ident := sess.Identity()
	switch m := env.(type) {
	case protocol.ChatMessage:
		out := protocol.ChatMessage{
			Sender:     ident.ID,
			SenderName: ident.DisplayName,
			Content:    m.Content,
			Timestamp:  time.Now().UTC(),
		}
		// Persist first; a store failure is logged, never reverses or
		// blocks delivery.
		if err := s.store.SaveMessage(context.Background(), store.Message{
			ID:        uuid.NewString(),
			Room:      room,
			User:      ident.ID,
			Content:   m.Content,
			CreatedAt: out.Timestamp,
		}); err != nil {
			log.Error().Err(err).Str("module", "transport.ws").
				Str("room", string(room)).
				Msg("persist message failed")
		}
		s.hub.Broadcast(room, out, "")

	case protocol.VoiceSignal:
		// From is stamped server-side so a client cannot impersonate;
		// the payload itself is never touched.
		m.From = ident.ID
		m.Timestamp = time.Now().UTC()
		s.hub.Relay(m)

	case protocol.Presence:
		log.Warn().Str("module", "transport.ws").
			Str("user", string(ident.ID)).
			Msg("client sent presence frame, ignored")
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(writeWait))
	_ = conn.Close()
}
