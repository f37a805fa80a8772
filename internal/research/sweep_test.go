package research

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismnews/research-engine/internal/model"
	"github.com/prismnews/research-engine/internal/store"
)

func TestSweepOnce(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	u, err := st.CreateUser(ctx, "alice@example.com")
	require.NoError(t, err)

	orphaned, err := st.CreateRequest(ctx, u.ID, "https://example.com/orphan", "")
	require.NoError(t, err)
	ok, err := st.TransitionStatus(ctx, orphaned.ID, model.StatusPending, model.StatusInProgress)
	require.NoError(t, err)
	require.True(t, ok)

	pending, err := st.CreateRequest(ctx, u.ID, "https://example.com/pending", "")
	require.NoError(t, err)

	// Sub-millisecond cutoff so the in_progress row counts as stale.
	sweeper := NewSweeper(st, time.Nanosecond, time.Minute)
	time.Sleep(5 * time.Millisecond)

	swept, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := st.GetRequest(ctx, orphaned.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Nil(t, got.CompletedAt)

	// Pending requests are untouched.
	got, err = st.GetRequest(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestSweepSparesFreshlyStartedWork(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	u, err := st.CreateUser(ctx, "alice@example.com")
	require.NoError(t, err)

	// Created well before the cutoff, the user answering follow-ups at
	// leisure, then started just now. The sweep must not touch it: only
	// time since work started counts.
	req, err := st.CreateRequest(ctx, u.ID, "https://example.com/slow-user", "")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	ok, err := st.TransitionStatus(ctx, req.ID, model.StatusPending, model.StatusInProgress)
	require.NoError(t, err)
	require.True(t, ok)

	swept, err := NewSweeper(st, 10*time.Millisecond, time.Minute).SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	got, err := st.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, got.Status)
}

func TestSweeperDefaults(t *testing.T) {
	s := NewSweeper(nil, 0, 0)
	assert.Equal(t, 10*time.Minute, s.olderThan)
	assert.Equal(t, time.Minute, s.interval)
}
