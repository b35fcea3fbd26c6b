package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termchat/termchat/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestConnectRequiresCredential(t *testing.T) {
	s := NewSession("http://127.0.0.1:1")
	err := s.Connect(context.Background(), "general")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	s := NewSession(srv.URL)
	s.UseToken("some-token")
	err := s.Connect(context.Background(), "general")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSendOutsideJoined(t *testing.T) {
	s := NewSession("http://127.0.0.1:1")
	assert.ErrorIs(t, s.Send("hello"), ErrNotJoined)
	assert.ErrorIs(t, s.SendSignal(protocol.VoiceSignal{Kind: protocol.SignalStop, Target: "x"}), ErrNotJoined)
}

func TestDisconnectIdempotentWithoutConnect(t *testing.T) {
	s := NewSession("http://127.0.0.1:1")
	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
	assert.Nil(t, s.Receive())
}

func TestSessionLifecycle(t *testing.T) {
	fromClient := make(chan []byte, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ws/general", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("token"))

		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		greeting := protocol.ChatMessage{
			Sender: "u-2", SenderName: "bob", Content: "welcome",
			Timestamp: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
		}
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, protocol.Encode(greeting)))

		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		fromClient <- data
		// Handler returns: the server drops the transport.
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	s.UseToken("issued-elsewhere")
	require.NoError(t, s.Connect(context.Background(), "general"))
	assert.Equal(t, StateJoined, s.State())

	recv := s.Receive()
	require.NotNil(t, recv)

	env, ok := <-recv
	require.True(t, ok)
	chat := env.(protocol.ChatMessage)
	assert.Equal(t, "bob", chat.SenderName)
	assert.Equal(t, "welcome", chat.Content)

	require.NoError(t, s.Send("hi bob"))
	select {
	case data := <-fromClient:
		sent, err := protocol.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, protocol.ChatMessage{Content: "hi bob"}, sent)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}

	// The transport drop ends the receive sequence and the session
	// silently returns to Disconnected.
	_, ok = <-recv
	assert.False(t, ok)
	assert.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, s.Send("too late"), ErrNotJoined)
	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, StateDisconnected, s.State())
}

func TestConnectWhileJoinedRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	s.UseToken("tok")
	require.NoError(t, s.Connect(context.Background(), "general"))
	defer s.Disconnect()

	assert.ErrorIs(t, s.Connect(context.Background(), "general"), ErrAlreadyConnected)
}

func TestFreshReceiveSequencePerConnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := NewSession(srv.URL)
	s.UseToken("tok")

	require.NoError(t, s.Connect(context.Background(), "general"))
	first := s.Receive()
	s.Disconnect()
	_, ok := <-first
	require.False(t, ok, "old sequence ends on disconnect")

	require.NoError(t, s.Connect(context.Background(), "general"))
	defer s.Disconnect()
	second := s.Receive()
	assert.NotEqual(t, first, second, "a new connect yields a fresh sequence")
}

func TestLoginAndAuthenticatedRequests(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"bearer"}`))
	})
	mux.HandleFunc("/api/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid authentication credentials"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"r-1","name":"general"}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSession(srv.URL)

	_, err := s.Rooms(context.Background())
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)

	require.NoError(t, s.Login(context.Background(), "alice", "hunter22"))
	assert.Equal(t, "tok-123", s.Token())

	rooms, err := s.Rooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "general", rooms[0].Name)
}
