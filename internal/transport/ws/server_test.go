package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termchat/termchat/internal/auth"
	"github.com/termchat/termchat/internal/config"
	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
	"github.com/termchat/termchat/internal/relay"
	"github.com/termchat/termchat/internal/store"
)

type testEnv struct {
	srv   *httptest.Server
	store *store.Store
	auth  *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{
		Mode:       "release",
		Secret:     "test-secret",
		TokenTTL:   time.Hour,
		SendQueue:  32,
		ReadLimit:  32768,
		PingPeriod: 30 * time.Second,
	}
	authSvc := auth.NewService(st, []byte(cfg.Secret), cfg.TokenTTL)
	server := NewServer(cfg, authSvc, st, relay.NewHub())

	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: st, auth: authSvc}
}

// signup registers, verifies, and logs a user in, returning the token.
func (e *testEnv) signup(t *testing.T, username string) string {
	t.Helper()
	ctx := context.Background()
	verifyToken, err := e.auth.Register(ctx, username, username+"@example.com", "hunter22")
	require.NoError(t, err)
	require.NoError(t, e.auth.VerifyEmail(ctx, verifyToken))
	token, err := e.auth.Login(ctx, username, "hunter22")
	require.NoError(t, err)
	return token
}

func (e *testEnv) makeRoom(t *testing.T, name string, members ...string) domain.RoomID {
	t.Helper()
	ctx := context.Background()
	room, err := e.store.EnsureRoom(ctx, name, "")
	require.NoError(t, err)
	for _, username := range members {
		u, err := e.store.UserByName(ctx, username)
		require.NoError(t, err)
		require.NoError(t, e.store.JoinRoom(ctx, u.ID, room.ID))
	}
	return room.ID
}

func (e *testEnv) dial(t *testing.T, room domain.RoomID, token string) *websocket.Conn {
	t.Helper()
	u := strings.Replace(e.srv.URL, "http", "ws", 1) + "/ws/" + string(room) + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := protocol.Decode(data)
	require.NoError(t, err)
	return env
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, code, closeErr.Code)
}

func TestWSRefusals(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t, "alice")
	room := e.makeRoom(t, "general", "alice")

	t.Run("bad credential", func(t *testing.T) {
		conn := e.dial(t, room, "forged-token")
		expectClose(t, conn, closeUnauthorized)
	})

	t.Run("unknown room", func(t *testing.T) {
		conn := e.dial(t, "no-such-room", token)
		expectClose(t, conn, closeRoomNotFound)
	})

	t.Run("authenticated but not a member", func(t *testing.T) {
		outsider := e.signup(t, "mallory")
		conn := e.dial(t, room, outsider)
		expectClose(t, conn, closeForbidden)
	})
}

func TestChatFlowEndToEnd(t *testing.T) {
	e := newTestEnv(t)
	aliceToken := e.signup(t, "alice")
	bobToken := e.signup(t, "bob")
	room := e.makeRoom(t, "general", "alice", "bob")

	alice := e.dial(t, room, aliceToken)
	joined := readEnvelope(t, alice).(protocol.Presence)
	assert.Equal(t, protocol.PresenceJoined, joined.Kind)
	assert.Equal(t, "alice", joined.DisplayName)

	bob := e.dial(t, room, bobToken)
	for _, conn := range []*websocket.Conn{alice, bob} {
		joined := readEnvelope(t, conn).(protocol.Presence)
		assert.Equal(t, protocol.PresenceJoined, joined.Kind)
		assert.Equal(t, "bob", joined.DisplayName)
	}

	// Chat is stamped with the sender's name and a timestamp, and
	// reaches every member, sender included.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		protocol.Encode(protocol.ChatMessage{Content: "hello"})))
	var bobID domain.UserID
	for _, conn := range []*websocket.Conn{alice, bob} {
		chat := readEnvelope(t, conn).(protocol.ChatMessage)
		assert.Equal(t, "alice", chat.SenderName)
		assert.Equal(t, "hello", chat.Content)
		assert.False(t, chat.Timestamp.IsZero())
	}

	// The message was persisted before broadcast.
	assert.Eventually(t, func() bool {
		msgs, err := e.store.Messages(context.Background(), room, 10)
		return err == nil && len(msgs) == 1 && msgs[0].Content == "hello"
	}, 2*time.Second, 20*time.Millisecond)

	// A malformed frame is logged and skipped, not fatal.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"dance"}`)))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		protocol.Encode(protocol.ChatMessage{Content: "still here"})))
	chat := readEnvelope(t, alice).(protocol.ChatMessage)
	assert.Equal(t, "still here", chat.Content)
	chat = readEnvelope(t, bob).(protocol.ChatMessage)
	assert.Equal(t, "still here", chat.Content)

	// Voice signaling passes through untouched, addressed by identity.
	bobUser, err := e.store.UserByName(context.Background(), "bob")
	require.NoError(t, err)
	bobID = bobUser.ID
	payload := json.RawMessage(`{"sdp":"v=0 o=alice 1 2","type":"offer"}`)
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		protocol.Encode(protocol.VoiceSignal{Kind: protocol.SignalOffer, Target: bobID, Payload: payload})))
	sig := readEnvelope(t, bob).(protocol.VoiceSignal)
	assert.Equal(t, protocol.SignalOffer, sig.Kind)
	assert.Equal(t, []byte(payload), []byte(sig.Payload))
	assert.NotEmpty(t, sig.From, "sender identity is stamped server-side")

	// Bob drops abruptly; alice hears exactly one "left".
	_ = bob.Close()
	left := readEnvelope(t, alice).(protocol.Presence)
	assert.Equal(t, protocol.PresenceLeft, left.Kind)
	assert.Equal(t, "bob", left.DisplayName)

	// Subsequent chat reaches only alice.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		protocol.Encode(protocol.ChatMessage{Content: "are you there?"})))
	chat = readEnvelope(t, alice).(protocol.ChatMessage)
	assert.Equal(t, "are you there?", chat.Content)
}

func TestEvictionOnReconnect(t *testing.T) {
	e := newTestEnv(t)
	token := e.signup(t, "alice")
	room := e.makeRoom(t, "general", "alice")

	first := e.dial(t, room, token)
	_ = readEnvelope(t, first) // own join

	// The evicted connection's departure is announced before the new
	// arrival; both land on the surviving connection.
	second := e.dial(t, room, token)
	left := readEnvelope(t, second).(protocol.Presence)
	assert.Equal(t, protocol.PresenceLeft, left.Kind)
	joined := readEnvelope(t, second).(protocol.Presence)
	assert.Equal(t, protocol.PresenceJoined, joined.Kind)

	// The first connection is closed by the server.
	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err := first.ReadMessage()
		if err != nil {
			break
		}
	}

	// The surviving connection still works.
	require.NoError(t, second.WriteMessage(websocket.TextMessage,
		protocol.Encode(protocol.ChatMessage{Content: "fresh link"})))
	chat := readEnvelope(t, second).(protocol.ChatMessage)
	assert.Equal(t, "fresh link", chat.Content)
}
