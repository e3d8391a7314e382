package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedCursor_DoesNotRewind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")

	require.NoError(t, s.SeedCursor(ctx, "acct-1", 100))

	// Seeding again with a lower value is a no-op.
	require.NoError(t, s.SeedCursor(ctx, "acct-1", 50))

	c, err := s.GetCursor(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), c.HistoryID)
}

func TestAdvanceCursor_Forward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")
	require.NoError(t, s.SeedCursor(ctx, "acct-1", 100))

	require.NoError(t, s.AdvanceCursor(ctx, "acct-1", 150))

	c, err := s.GetCursor(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(150), c.HistoryID)
}

func TestAdvanceCursor_EqualIsAllowed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")
	require.NoError(t, s.SeedCursor(ctx, "acct-1", 100))

	require.NoError(t, s.AdvanceCursor(ctx, "acct-1", 100))
}

func TestAdvanceCursor_Regression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")
	require.NoError(t, s.SeedCursor(ctx, "acct-1", 100))

	err := s.AdvanceCursor(ctx, "acct-1", 99)
	assert.ErrorIs(t, err, ErrCursorRegression)

	// The stored cursor is untouched.
	c, err := s.GetCursor(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), c.HistoryID)
}

func TestAdvanceCursor_MissingAccount(t *testing.T) {
	s := newTestStore(t)

	err := s.AdvanceCursor(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetCursor_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCursor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkDelivery_Dedup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	fresh, err := s.MarkDelivery(ctx, "msg-123", now)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = s.MarkDelivery(ctx, "msg-123", now.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = s.MarkDelivery(ctx, "msg-456", now)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestPruneDeliveries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_, err := s.MarkDelivery(ctx, "old-1", now.Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = s.MarkDelivery(ctx, "old-2", now.Add(-90*time.Minute))
	require.NoError(t, err)
	_, err = s.MarkDelivery(ctx, "recent", now.Add(-time.Minute))
	require.NoError(t, err)

	pruned, err := s.PruneDeliveries(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), pruned)

	// Pruned tokens may be seen as fresh again.
	fresh, err := s.MarkDelivery(ctx, "old-1", now)
	require.NoError(t, err)
	assert.True(t, fresh)
}
