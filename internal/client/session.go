// Package client drives a connection from the user's side: credential
// exchange over the HTTP API, then a live session against the relay.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/protocol"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateJoined
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNotJoined        = errors.New("not joined")
	ErrAlreadyConnected = errors.New("already connected")
)

// Session is the client-side state machine:
// Disconnected → Connecting → Joined → Disconnected, re-enterable.
type Session struct {
	baseURL string
	httpc   *http.Client

	mu    sync.Mutex
	token string
	state State
	ws    *websocket.Conn
	recv  chan protocol.Envelope

	wmu sync.Mutex // serializes websocket writes
}

func NewSession(baseURL string) *Session {
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
}

// UseToken resumes with a previously issued bearer token.
func (s *Session) UseToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect dials the relay for one room. It requires a prior successful
// Login (or UseToken); transport failures surface as errors and return
// the session to Disconnected.
func (s *Session) Connect(ctx context.Context, room domain.RoomID) error {
	s.mu.Lock()
	if s.token == "" {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.state = StateConnecting
	token := s.token
	s.mu.Unlock()

	wsURL, err := s.websocketURL(room, token)
	if err != nil {
		s.setDisconnected(nil)
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		s.setDisconnected(nil)
		return fmt.Errorf("connect %s: %w", room, err)
	}

	recv := make(chan protocol.Envelope, 32)
	s.mu.Lock()
	s.ws = conn
	s.recv = recv
	s.state = StateJoined
	s.mu.Unlock()

	go s.readLoop(conn, recv)
	return nil
}

// Receive is the continuous sequence of decoded envelopes for the
// current connection. It ends (the channel closes) when the transport
// does; a fresh Connect yields a fresh channel. Nil before the first
// Connect.
func (s *Session) Receive() <-chan protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv
}

// Send submits chat content. Valid only while Joined.
func (s *Session) Send(content string) error {
	return s.write(protocol.ChatMessage{Content: content})
}

// SendSignal submits an opaque voice-signal blob addressed to one
// identity in the room.
func (s *Session) SendSignal(sig protocol.VoiceSignal) error {
	return s.write(sig)
}

func (s *Session) write(env protocol.Envelope) error {
	s.mu.Lock()
	if s.state != StateJoined || s.ws == nil {
		s.mu.Unlock()
		return ErrNotJoined
	}
	conn := s.ws
	s.mu.Unlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, protocol.Encode(env))
}

// Disconnect is idempotent and always lands in Disconnected, releasing
// the transport whatever the prior state was.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.ws
	s.ws = nil
	s.state = StateDisconnected
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Session) readLoop(conn *websocket.Conn, recv chan protocol.Envelope) {
	defer func() {
		_ = conn.Close()
		s.setDisconnected(conn)
		close(recv)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "client").Msg("malformed frame, skipping")
			continue
		}
		recv <- env
	}
}

// setDisconnected transitions to Disconnected unless a newer connection
// has already taken over.
func (s *Session) setDisconnected(old *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old != nil && s.ws != old {
		return
	}
	s.ws = nil
	s.state = StateDisconnected
}

func (s *Session) websocketURL(room domain.RoomID, token string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("bad server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/" + string(room)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}
