// Package auth issues and validates bearer credentials. The relay
// consults it exactly once per connection attempt; a credential good at
// connect time is trusted for the connection's lifetime.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/termchat/termchat/internal/domain"
	"github.com/termchat/termchat/internal/store"
)

var (
	// ErrUnauthorized covers every refused credential: missing,
	// malformed, expired, forged, or an unverified account.
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotVerified  = fmt.Errorf("%w: email not verified", ErrUnauthorized)
)

type Service struct {
	store  *store.Store
	secret []byte
	ttl    time.Duration
}

func NewService(st *store.Store, secret []byte, ttl time.Duration) *Service {
	if ttl == 0 {
		ttl = 30 * time.Minute
	}
	return &Service{store: st, secret: secret, ttl: ttl}
}

// Register creates an unverified account and returns the verification
// token. There is no mailer; the verification link is logged, which is
// enough for a terminal deployment.
func (s *Service) Register(ctx context.Context, username, email, password string) (string, error) {
	if err := domain.ValidateUsername(username); err != nil {
		return "", err
	}
	if err := domain.ValidatePassword(password); err != nil {
		return "", err
	}
	if !strings.Contains(email, "@") {
		return "", fmt.Errorf("invalid email %q", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	verifyToken := uuid.NewString()
	err = s.store.CreateUser(ctx, store.User{
		ID:           domain.UserID(uuid.NewString()),
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		VerifyToken:  verifyToken,
		CreatedAt:    time.Now(),
	})
	if err != nil {
		return "", err
	}

	log.Info().Str("module", "auth").Str("user", username).
		Str("verify_url", "/api/verify-email?token="+verifyToken).
		Msg("registered, verification pending")
	return verifyToken, nil
}

// VerifyEmail confirms the account behind a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	u, err := s.store.UserByVerifyToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: unknown verification token", ErrUnauthorized)
	}
	if err != nil {
		return err
	}
	return s.store.MarkVerified(ctx, u.ID)
}

// Login checks the password and mints a bearer token. Unverified
// accounts are refused.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	u, err := s.store.UserByName(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUnauthorized
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrUnauthorized
	}
	if !u.Verified {
		return "", ErrNotVerified
	}

	now := time.Now()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": string(u.ID),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(s.ttl).Unix(),
	})
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate validates a bearer token into an Identity. Everything
// that can go wrong maps to ErrUnauthorized; callers don't distinguish
// beyond that.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("%w: missing credential", ErrUnauthorized)
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthorized)
	}

	u, err := s.store.UserByID(ctx, domain.UserID(sub))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Identity{}, fmt.Errorf("%w: unknown subject", ErrUnauthorized)
	}
	if err != nil {
		return domain.Identity{}, err
	}
	if !u.Verified {
		return domain.Identity{}, ErrNotVerified
	}
	return u.Identity(), nil
}
