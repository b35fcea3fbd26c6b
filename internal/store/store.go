// Package store is the persistent backing store: users, rooms,
// memberships, and message history over SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/termchat/termchat/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	verified      INTEGER NOT NULL DEFAULT 0,
	verify_token  TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS rooms (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	private     INTEGER NOT NULL DEFAULT 0,
	created_by  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	user_id  TEXT NOT NULL,
	room_id  TEXT NOT NULL,
	is_admin INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, room_id)
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	room_id    TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_room_time ON messages (room_id, created_at);
`

// Store wraps one SQLite file. A single handle backs every subflow so
// they share the same visibility boundaries.
type Store struct {
	db *sql.DB
}

// Open opens the store at path and applies the schema. ":memory:" is
// supported for tests; it pins the pool to one connection so every
// query sees the same in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

// User is the persisted account record. Identity (id + display name)
// is the slice of it the relay cares about.
type User struct {
	ID           domain.UserID
	Username     string
	Email        string
	PasswordHash string
	Verified     bool
	VerifyToken  string
	CreatedAt    time.Time
}

func (u User) Identity() domain.Identity {
	return domain.Identity{ID: u.ID, DisplayName: u.Username}
}

func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, verified, verify_token, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(u.ID), u.Username, u.Email, u.PasswordHash, u.Verified, u.VerifyToken, toMillis(u.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}
	return err
}

func (s *Store) UserByName(ctx context.Context, username string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, verified, verify_token, created_at
		 FROM users WHERE username = ?`, username))
}

func (s *Store) UserByID(ctx context.Context, id domain.UserID) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, verified, verify_token, created_at
		 FROM users WHERE id = ?`, string(id)))
}

func (s *Store) UserByVerifyToken(ctx context.Context, token string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, verified, verify_token, created_at
		 FROM users WHERE verify_token = ? AND verify_token != ''`, token))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var u User
	var id string
	var createdAt int64
	err := row.Scan(&id, &u.Username, &u.Email, &u.PasswordHash, &u.Verified, &u.VerifyToken, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.ID = domain.UserID(id)
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

// MarkVerified flips the account to verified and burns the token.
func (s *Store) MarkVerified(ctx context.Context, id domain.UserID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET verified = 1, verify_token = '' WHERE id = ?`, string(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRoom(ctx context.Context, room domain.Room, creator domain.UserID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rooms (id, name, description, private, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(room.ID), room.Name, room.Description, room.Private, string(creator), toMillis(time.Now()))
	if isUniqueViolation(err) {
		return fmt.Errorf("room %q: %w", room.Name, ErrDuplicate)
	}
	if err != nil {
		return err
	}
	if creator != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (user_id, room_id, is_admin) VALUES (?, ?, 1)`,
			string(creator), string(room.ID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EnsureRoom creates a public room by name if it does not exist yet and
// returns it either way. Used to seed the default room at startup.
func (s *Store) EnsureRoom(ctx context.Context, name, description string) (domain.Room, error) {
	room := domain.Room{
		ID:          domain.RoomID(uuid.NewString()),
		Name:        name,
		Description: description,
	}
	err := s.CreateRoom(ctx, room, "")
	if errors.Is(err, ErrDuplicate) {
		return s.RoomByName(ctx, name)
	}
	if err != nil {
		return domain.Room{}, err
	}
	log.Info().Str("module", "store").Str("room", name).Msg("seeded room")
	return room, nil
}

func (s *Store) RoomByID(ctx context.Context, id domain.RoomID) (domain.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, private FROM rooms WHERE id = ?`, string(id)))
}

func (s *Store) RoomByName(ctx context.Context, name string) (domain.Room, error) {
	return s.scanRoom(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, private FROM rooms WHERE name = ?`, name))
}

func (s *Store) scanRoom(row *sql.Row) (domain.Room, error) {
	var r domain.Room
	var id string
	err := row.Scan(&id, &r.Name, &r.Description, &r.Private)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Room{}, ErrNotFound
	}
	if err != nil {
		return domain.Room{}, err
	}
	r.ID = domain.RoomID(id)
	return r, nil
}

func (s *Store) Rooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, private FROM rooms ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Room
	for rows.Next() {
		var r domain.Room
		var id string
		if err := rows.Scan(&id, &r.Name, &r.Description, &r.Private); err != nil {
			return nil, err
		}
		r.ID = domain.RoomID(id)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RoomExists(ctx context.Context, id domain.RoomID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rooms WHERE id = ?`, string(id)).Scan(&n)
	return n > 0, err
}

// JoinRoom records persistent membership. Joining twice is fine.
func (s *Store) JoinRoom(ctx context.Context, user domain.UserID, room domain.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO room_members (user_id, room_id) VALUES (?, ?)`,
		string(user), string(room))
	return err
}

func (s *Store) IsMember(ctx context.Context, user domain.UserID, room domain.RoomID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE user_id = ? AND room_id = ?`,
		string(user), string(room)).Scan(&n)
	return n > 0, err
}

// Message is one persisted chat line. Username is joined in on read.
type Message struct {
	ID        string
	Room      domain.RoomID
	User      domain.UserID
	Username  string
	Content   string
	CreatedAt time.Time
}

func (s *Store) SaveMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, room_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, string(m.Room), string(m.User), m.Content, toMillis(m.CreatedAt))
	return err
}

// Messages returns the most recent limit messages for a room, oldest
// first.
func (s *Store) Messages(ctx context.Context, room domain.RoomID, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.room_id, m.user_id, COALESCE(u.username, ''), m.content, m.created_at
		 FROM messages m LEFT JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = ?
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`, string(room), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var roomID, userID string
		var createdAt int64
		if err := rows.Scan(&m.ID, &roomID, &userID, &m.Username, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.Room = domain.RoomID(roomID)
		m.User = domain.UserID(userID)
		m.CreatedAt = fromMillis(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query runs newest-first to apply the limit; callers want oldest
	// first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
