package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/termchat/termchat/internal/domain"
)

// ErrProtocol marks a malformed frame. It is never fatal to the
// connection; the read loop logs and keeps reading.
var ErrProtocol = errors.New("protocol error")

const (
	typeChat     = "chat"
	typePresence = "presence"
	typeVoice    = "voice_" // prefix; suffix is the signal kind
)

// frame is the single wire shape all variants share. Pointer fields
// distinguish "absent" from "zero" where the distinction matters.
type frame struct {
	Type      string          `json:"type"`
	Sender    string          `json:"sender,omitempty"`
	Username  string          `json:"username,omitempty"`
	Content   *string         `json:"content,omitempty"`
	Event     string          `json:"event,omitempty"`
	User      string          `json:"user,omitempty"`
	From      string          `json:"from,omitempty"`
	Target    string          `json:"target,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Encode serializes a well-formed envelope. It is total: every value
// constructible from this package marshals without error.
func Encode(e Envelope) []byte {
	var f frame
	switch m := e.(type) {
	case ChatMessage:
		f.Type = typeChat
		f.Sender = string(m.Sender)
		f.Username = m.SenderName
		f.Content = &m.Content
		f.Timestamp = encodeTime(m.Timestamp)
	case Presence:
		f.Type = typePresence
		f.Event = string(m.Kind)
		f.User = string(m.User)
		f.Username = m.DisplayName
		f.Timestamp = encodeTime(m.Timestamp)
	case VoiceSignal:
		f.Type = typeVoice + string(m.Kind)
		f.From = string(m.From)
		f.Target = string(m.Target)
		f.Payload = m.Payload
		f.Timestamp = encodeTime(m.Timestamp)
	}
	b, _ := json.Marshal(f)
	return b
}

// Decode parses one frame. An unknown discriminant or a missing
// required field yields an error wrapping ErrProtocol.
func Decode(data []byte) (Envelope, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: bad json: %v", ErrProtocol, err)
	}
	ts, err := decodeTime(f.Timestamp)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case typeChat:
		if f.Content == nil {
			return nil, fmt.Errorf("%w: chat frame missing content", ErrProtocol)
		}
		return ChatMessage{
			Sender:     domain.UserID(f.Sender),
			SenderName: f.Username,
			Content:    *f.Content,
			Timestamp:  ts,
		}, nil
	case typePresence:
		kind := PresenceKind(f.Event)
		if kind != PresenceJoined && kind != PresenceLeft {
			return nil, fmt.Errorf("%w: bad presence event %q", ErrProtocol, f.Event)
		}
		if f.User == "" {
			return nil, fmt.Errorf("%w: presence frame missing user", ErrProtocol)
		}
		return Presence{
			Kind:        kind,
			User:        domain.UserID(f.User),
			DisplayName: f.Username,
			Timestamp:   ts,
		}, nil
	case typeVoice + string(SignalOffer),
		typeVoice + string(SignalAnswer),
		typeVoice + string(SignalCandidate),
		typeVoice + string(SignalStop):
		if f.Target == "" {
			return nil, fmt.Errorf("%w: voice frame missing target", ErrProtocol)
		}
		return VoiceSignal{
			Kind:      SignalKind(f.Type[len(typeVoice):]),
			From:      domain.UserID(f.From),
			Target:    domain.UserID(f.Target),
			Payload:   f.Payload,
			Timestamp: ts,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrProtocol, f.Type)
	}
}

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrProtocol, s)
	}
	return t.UTC(), nil
}
