package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismnews/research-engine/internal/store"
)

func newTestService(t *testing.T, ttl time.Duration) (*Service, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	return NewService(st, st, ttl), st
}

func TestLoginRegistersNewUser(t *testing.T) {
	svc, st := newTestService(t, time.Hour)
	ctx := context.Background()

	session, user, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, "alice@example.com", user.Email)

	persisted, err := st.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, user.ID, persisted.ID)
}

func TestLoginExistingUserGetsFreshToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	first, user1, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)
	second, user2, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)

	assert.Equal(t, user1.ID, user2.ID, "same identity")
	assert.NotEqual(t, first.Token, second.Token, "fresh token per login")
}

func TestLoginNormalizesEmail(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	_, user1, err := svc.Login(ctx, "  Alice@Example.COM ")
	require.NoError(t, err)
	_, user2, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user1.ID, user2.ID)
	assert.Equal(t, "alice@example.com", user1.Email)
}

func TestLoginRejectsInvalidEmail(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	for _, email := range []string{"", "   ", "no-at-sign"} {
		_, _, err := svc.Login(context.Background(), email)
		assert.Error(t, err, "email %q", email)
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	session, user, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)

	userID, err := svc.Authenticate(ctx, session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestAuthenticateMissingToken(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)

	_, err := svc.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = svc.Authenticate(context.Background(), "unknown-token")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestAuthenticateExpiredSession(t *testing.T) {
	svc, st := newTestService(t, time.Hour)
	ctx := context.Background()

	session, _, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)

	// Expire the session behind the service's back.
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, st.SetSession(ctx, session))

	_, err = svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLogout(t *testing.T) {
	svc, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	session, _, err := svc.Login(ctx, "alice@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, session.Token))

	_, err = svc.Authenticate(ctx, session.Token)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	// Logging out twice is harmless.
	require.NoError(t, svc.Logout(ctx, session.Token))
}

func TestSessionTTL(t *testing.T) {
	svc, _ := newTestService(t, 2*time.Hour)

	session, _, err := svc.Login(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, session.CreatedAt.Add(2*time.Hour), session.ExpiresAt, time.Second)
}
