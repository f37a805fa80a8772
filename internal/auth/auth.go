// Package auth supplies the engine's identity needs: resolving an opaque
// bearer token to a stable user id. Sessions live behind a narrow store
// interface so tests can substitute a fake without process-global state.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/prismnews/research-engine/internal/model"
)

// ErrUnauthenticated signals a missing, unknown, or expired session.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// SessionStore is the session persistence contract.
type SessionStore interface {
	GetSession(ctx context.Context, token string) (*model.Session, error)
	SetSession(ctx context.Context, session *model.Session) error
	DestroySession(ctx context.Context, token string) error
}

// UserStore resolves and registers users.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	CreateUser(ctx context.Context, email string) (*model.User, error)
}

// Service issues and validates sessions.
type Service struct {
	sessions SessionStore
	users    UserStore
	ttl      time.Duration
}

// NewService creates a Service. A non-positive ttl defaults to 7 days.
func NewService(sessions SessionStore, users UserStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Service{sessions: sessions, users: users, ttl: ttl}
}

// Login finds or registers the user for the given email and issues a
// fresh session token.
func (s *Service) Login(ctx context.Context, email string) (*model.Session, *model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, nil, eris.New("auth: invalid email")
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, nil, eris.Wrap(err, "auth: lookup user")
	}
	if user == nil {
		user, err = s.users.CreateUser(ctx, email)
		if err != nil {
			return nil, nil, eris.Wrap(err, "auth: register user")
		}
	}

	now := time.Now().UTC()
	session := &model.Session{
		Token:     uuid.New().String(),
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.SetSession(ctx, session); err != nil {
		return nil, nil, eris.Wrap(err, "auth: persist session")
	}
	return session, user, nil
}

// Logout destroys the session for the given token. Unknown tokens are a
// no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	return eris.Wrap(s.sessions.DestroySession(ctx, token), "auth: destroy session")
}

// Authenticate resolves a bearer token to a user id.
func (s *Service) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthenticated
	}
	session, err := s.sessions.GetSession(ctx, token)
	if err != nil {
		return "", eris.Wrap(err, "auth: lookup session")
	}
	if session == nil || session.Expired(time.Now().UTC()) {
		return "", ErrUnauthenticated
	}
	return session.UserID, nil
}
