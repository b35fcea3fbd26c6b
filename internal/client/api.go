package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/termchat/termchat/internal/domain"
)

// apiError carries the server's error body for a non-2xx response.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (s *Session) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := s.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{Status: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register creates an account. The server logs a verification link that
// must be followed before login succeeds.
func (s *Session) Register(ctx context.Context, username, email, password string) error {
	return s.doJSON(ctx, http.MethodPost, "/api/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
}

// Login exchanges credentials for a bearer token and holds it for the
// rest of the session.
func (s *Session) Login(ctx context.Context, username, password string) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := s.doJSON(ctx, http.MethodPost, "/api/login", map[string]string{
		"username": username,
		"password": password,
	}, &out)
	if err != nil {
		return err
	}
	s.UseToken(out.AccessToken)
	return nil
}

func (s *Session) Rooms(ctx context.Context) ([]domain.Room, error) {
	var out []domain.Room
	if err := s.doJSON(ctx, http.MethodGet, "/api/rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) CreateRoom(ctx context.Context, name, description string) (domain.Room, error) {
	var out domain.Room
	err := s.doJSON(ctx, http.MethodPost, "/api/rooms", map[string]any{
		"name":        name,
		"description": description,
	}, &out)
	return out, err
}

func (s *Session) JoinRoom(ctx context.Context, room domain.RoomID) error {
	return s.doJSON(ctx, http.MethodPost, "/api/rooms/"+string(room)+"/join", nil, nil)
}

// HistoryEntry is one line of persisted room history.
type HistoryEntry struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	Username  string `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Session) History(ctx context.Context, room domain.RoomID, limit int) ([]HistoryEntry, error) {
	path := fmt.Sprintf("/api/rooms/%s/messages?limit=%d", room, limit)
	var out []HistoryEntry
	if err := s.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
