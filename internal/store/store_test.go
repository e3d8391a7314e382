package store

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens an in-memory store with migrations applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

// seedAccount inserts a minimal active account for tests.
func seedAccount(t *testing.T, s *Store, id, email string) *Account {
	t.Helper()

	a := &Account{
		ID:              id,
		Email:           email,
		AccessToken:     "access-" + id,
		AccessExpiresAt: time.Now().Add(time.Hour).UTC(),
		RefreshToken:    "refresh-" + id,
		AuthState:       AuthStateActive,
	}
	require.NoError(t, s.CreateAccount(context.Background(), a))

	return a
}

func TestCreateAndGetAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	refreshExp := time.Now().Add(30 * 24 * time.Hour).Truncate(time.Second).UTC()
	a := &Account{
		ID:               "acct-1",
		Email:            "user@example.com",
		AccessToken:      "access-token",
		AccessExpiresAt:  time.Now().Add(55 * time.Minute).UTC(),
		RefreshToken:     "refresh-token",
		RefreshExpiresAt: &refreshExp,
	}
	require.NoError(t, s.CreateAccount(ctx, a))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, "access-token", got.AccessToken)
	assert.Equal(t, AuthStateActive, got.AuthState)
	require.NotNil(t, got.RefreshExpiresAt)
	assert.Equal(t, refreshExp, *got.RefreshExpiresAt)
}

func TestCreateAccount_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user@example.com")

	err := s.CreateAccount(context.Background(), &Account{
		ID:              "acct-2",
		Email:           "user@example.com",
		AccessToken:     "x",
		AccessExpiresAt: time.Now(),
		RefreshToken:    "y",
	})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestGetAccount_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAccountByEmail(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-1", "user@example.com")

	got, err := s.GetAccountByEmail(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acct-1", got.ID)

	_, err = s.GetAccountByEmail(context.Background(), "other@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTokens_ReplacesPairAndReactivates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")

	require.NoError(t, s.SetAuthState(ctx, "acct-1", AuthStateReauthRequired))

	newExpiry := time.Now().Add(time.Hour).Truncate(time.Second).UTC()
	require.NoError(t, s.UpdateTokens(ctx, "acct-1", "new-access", newExpiry, "new-refresh", nil))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", got.AccessToken)
	assert.Equal(t, "new-refresh", got.RefreshToken)
	assert.Equal(t, newExpiry, got.AccessExpiresAt)
	assert.Nil(t, got.RefreshExpiresAt)
	assert.Equal(t, AuthStateActive, got.AuthState)
}

func TestUpdateTokens_MissingAccount(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateTokens(context.Background(), "missing", "a", time.Now(), "r", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetAuthState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")

	require.NoError(t, s.SetAuthState(ctx, "acct-1", AuthStateReauthRequired))

	got, err := s.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, AuthStateReauthRequired, got.AuthState)
}

func TestListAccounts(t *testing.T) {
	s := newTestStore(t)
	seedAccount(t, s, "acct-2", "b@example.com")
	seedAccount(t, s, "acct-1", "a@example.com")

	accounts, err := s.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "acct-1", accounts[0].ID)
	assert.Equal(t, "acct-2", accounts[1].ID)
}

func TestWatchUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "user@example.com")

	first := &Watch{
		AccountID:    "acct-1",
		Topic:        "projects/p/topics/t",
		State:        WatchStateActive,
		ExpiresAt:    time.Now().Add(7 * 24 * time.Hour).Truncate(time.Second).UTC(),
		RegisteredAt: time.Now().Truncate(time.Second).UTC(),
	}
	require.NoError(t, s.UpsertWatch(ctx, first))

	// Renewal replaces the row — latest call wins.
	renewed := *first
	renewed.ExpiresAt = first.ExpiresAt.Add(24 * time.Hour)
	require.NoError(t, s.UpsertWatch(ctx, &renewed))

	got, err := s.GetWatch(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, renewed.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, WatchStateActive, got.State)
}

func TestGetWatch_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWatch(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetWatchStateAndListByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedAccount(t, s, "acct-1", "a@example.com")
	seedAccount(t, s, "acct-2", "b@example.com")

	for _, id := range []string{"acct-1", "acct-2"} {
		require.NoError(t, s.UpsertWatch(ctx, &Watch{
			AccountID:    id,
			Topic:        "projects/p/topics/t",
			State:        WatchStateActive,
			ExpiresAt:    time.Now().Add(time.Hour).UTC(),
			RegisteredAt: time.Now().UTC(),
		}))
	}

	require.NoError(t, s.SetWatchState(ctx, "acct-1", WatchStateExpired))

	expired, err := s.ListWatchesByState(ctx, WatchStateExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "acct-1", expired[0].AccountID)

	active, err := s.ListWatchesByState(ctx, WatchStateActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "acct-2", active[0].AccountID)
}
