package lifecycle

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

func testOptions() Options {
	return Options{
		Topic:             "projects/p/topics/mail",
		TickInterval:      time.Minute,
		RefreshLeadTime:   10 * time.Minute,
		RenewalLeadTime:   24 * time.Hour,
		TokenSafetyMargin: 5 * time.Minute,
		DedupWindow:       time.Hour,
		Workers:           4,
	}
}

func TestAuthorize_CreatesAccountAndResumesCoverage(t *testing.T) {
	st := newLifecycleStore(t)
	ctx := context.Background()

	provider := &fakeProvider{
		watchFn: func(string, string) (*gmail.WatchInfo, error) {
			return &gmail.WatchInfo{HistoryID: 500, Expires: time.Now().Add(7 * 24 * time.Hour)}, nil
		},
		historyFn: pagedHistory(map[string]*gmail.HistoryPage{
			"": {LastRecordID: 0, HistoryID: 500},
		}, nil),
	}

	consumer := &recordingConsumer{}
	e := NewEngine(st, provider, consumer, nil, testOptions(), slog.Default())

	acct, err := e.Authorize(ctx, "user@example.com", &oauth2.Token{
		AccessToken:  "granted-access",
		RefreshToken: "granted-refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	require.NotEmpty(t, acct.ID)
	assert.Equal(t, "user@example.com", acct.Email)
	assert.Equal(t, store.AuthStateActive, acct.AuthState)

	w, err := st.GetWatch(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, store.WatchStateActive, w.State)

	// The cursor floor is the new watch's starting position; nothing
	// before authorization is ever fetched.
	cur, err := st.GetCursor(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), cur.HistoryID)
	assert.Empty(t, consumer.all())
}

func TestAuthorize_RequiresRefreshToken(t *testing.T) {
	st := newLifecycleStore(t)
	e := NewEngine(st, &fakeProvider{}, &recordingConsumer{}, nil, testOptions(), slog.Default())

	_, err := e.Authorize(context.Background(), "user@example.com", &oauth2.Token{
		AccessToken: "granted-access",
		Expiry:      time.Now().Add(time.Hour),
	})
	require.Error(t, err)
}

func TestCompleteReauth_CatchesUpDormancyGap(t *testing.T) {
	st := newLifecycleStore(t)
	ctx := context.Background()

	// A dormant account: refresh token died at cursor position 100.
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-30*24*time.Hour))
	require.NoError(t, st.SetAuthState(ctx, "acct-1", store.AuthStateReauthRequired))
	require.NoError(t, st.SeedCursor(ctx, "acct-1", 100))
	require.NoError(t, st.UpsertWatch(ctx, &store.Watch{
		AccountID:    "acct-1",
		Topic:        "projects/p/topics/mail",
		State:        store.WatchStateExpired,
		ExpiresAt:    time.Now().Add(-23 * 24 * time.Hour),
		RegisteredAt: time.Now().Add(-30 * 24 * time.Hour),
	}))

	provider := &fakeProvider{
		watchFn: func(string, string) (*gmail.WatchInfo, error) {
			return &gmail.WatchInfo{HistoryID: 155, Expires: time.Now().Add(7 * 24 * time.Hour)}, nil
		},
		historyFn: pagedHistory(fivePages(), nil),
	}

	consumer := &recordingConsumer{}
	e := NewEngine(st, provider, consumer, nil, testOptions(), slog.Default())

	rep, err := e.CompleteReauth(ctx, "acct-1", &oauth2.Token{
		AccessToken:  "fresh-access",
		RefreshToken: "fresh-refresh",
		Expiry:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// Every change missed during the dormancy was handed off exactly
	// once, ending at the mailbox's current position.
	assert.Equal(t, uint64(100), rep.StartHistoryID)
	assert.Equal(t, uint64(155), rep.EndHistoryID)
	assert.Equal(t, []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10"}, consumer.all())

	acct, err := st.GetAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, store.AuthStateActive, acct.AuthState)
	assert.Equal(t, "fresh-access", acct.AccessToken)

	w, err := st.GetWatch(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, store.WatchStateActive, w.State)
}

func TestCompleteReauth_UnknownAccount(t *testing.T) {
	st := newLifecycleStore(t)
	e := NewEngine(st, &fakeProvider{}, &recordingConsumer{}, nil, testOptions(), slog.Default())

	_, err := e.CompleteReauth(context.Background(), "missing", &oauth2.Token{
		AccessToken:  "a",
		RefreshToken: "r",
		Expiry:       time.Now().Add(time.Hour),
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestStatus_SurfacesAuthAndWatchState(t *testing.T) {
	st := newLifecycleStore(t)
	ctx := context.Background()
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(time.Hour))
	seedActiveWatch(t, st, "acct-1", time.Now().Add(24*time.Hour))
	require.NoError(t, st.SeedCursor(ctx, "acct-1", 700))

	seedActiveAccount(t, st, "acct-2", "dormant@example.com", time.Now().Add(-time.Hour))
	require.NoError(t, st.SetAuthState(ctx, "acct-2", store.AuthStateReauthRequired))

	status := NewStatus(st)

	all, err := status.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	assert.Equal(t, store.AuthStateActive, all[0].AuthState)
	assert.Equal(t, store.WatchStateActive, all[0].WatchState)
	assert.Equal(t, uint64(700), all[0].HistoryID)

	assert.Equal(t, store.AuthStateReauthRequired, all[1].AuthState)
	assert.Equal(t, store.WatchStateUnregistered, all[1].WatchState)

	one, err := status.Account(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", one.Email)

	_, err = status.Account(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
