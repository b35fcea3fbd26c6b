// Package domain contains entities without logic, just meta-data.
package domain

import "errors"

const (
	MaxUsernameLen = 36
	MinPasswordLen = 6
)

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
	ErrPasswordTooWeak = errors.New("password too short")
)

type UserID string

// Identity is an authenticated user reference, independent of any
// connection. Immutable for a connection's lifetime.
type Identity struct {
	ID          UserID `json:"id"`
	DisplayName string `json:"username"`
}

// ValidateUsername is shared by registration and rename paths.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}

func ValidatePassword(password string) error {
	if len(password) < MinPasswordLen {
		return ErrPasswordTooWeak
	}
	return nil
}
