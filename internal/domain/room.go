package domain

type RoomID string

// Room is a named channel. Membership is tracked by the store
// (persistent) and the session registry (live), never on the room itself.
type Room struct {
	ID          RoomID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"is_private,omitempty"`
}
