// Package protocol defines the typed message envelope exchanged over a
// connection and its JSON wire codec.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/termchat/termchat/internal/domain"
)

// Envelope is one discriminated message unit. Exactly three variants
// exist: ChatMessage, Presence, and VoiceSignal.
type Envelope interface {
	envelope()
}

// ChatMessage carries user text. Sender and SenderName are stamped by
// the server before fan-out; a client-originated frame carries only
// Content.
type ChatMessage struct {
	Sender     domain.UserID
	SenderName string
	Content    string
	Timestamp  time.Time
}

func (ChatMessage) envelope() {}

type PresenceKind string

const (
	PresenceJoined PresenceKind = "joined"
	PresenceLeft   PresenceKind = "left"
)

// Presence announces a membership change to a room.
type Presence struct {
	Kind        PresenceKind
	User        domain.UserID
	DisplayName string
	Timestamp   time.Time
}

func (Presence) envelope() {}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalStop      SignalKind = "stop"
)

// VoiceSignal is an opaque voice-call negotiation blob addressed to one
// identity. The relay never interprets Payload.
type VoiceSignal struct {
	Kind      SignalKind
	From      domain.UserID
	Target    domain.UserID
	Payload   json.RawMessage
	Timestamp time.Time
}

func (VoiceSignal) envelope() {}
