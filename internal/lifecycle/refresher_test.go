package lifecycle

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

func newTestRefresher(t *testing.T, st *store.Store, p Provider) *Refresher {
	t.Helper()

	return NewRefresher(st, p, 5*time.Minute, nil, slog.Default())
}

func TestRefresh_PersistsNewTokenPair(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-time.Minute))

	expiry := time.Now().Add(time.Hour)
	provider := &fakeProvider{
		refreshFn: func(refreshToken string) (*oauth2.Token, error) {
			assert.Equal(t, "refresh-acct-1", refreshToken)

			return &oauth2.Token{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				Expiry:       expiry,
			}, nil
		},
	}

	r := newTestRefresher(t, st, provider)

	acct, err := r.Refresh(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "new-access", acct.AccessToken)
	assert.Equal(t, "new-refresh", acct.RefreshToken)
	assert.Equal(t, store.AuthStateActive, acct.AuthState)

	// Effective expiry is the reported TTL minus the safety margin.
	assert.WithinDuration(t, expiry.Add(-5*time.Minute), acct.AccessExpiresAt, time.Second)
}

func TestRefresh_SingleFlight(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-time.Minute))

	release := make(chan struct{})
	provider := &fakeProvider{
		refreshFn: func(string) (*oauth2.Token, error) {
			<-release

			return &oauth2.Token{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
	}

	r := newTestRefresher(t, st, provider)

	const callers = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []string
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			acct, err := r.Refresh(context.Background(), "acct-1")
			require.NoError(t, err)

			mu.Lock()
			results = append(results, acct.AccessToken)
			mu.Unlock()
		}()
	}

	// Let every caller reach the in-flight refresh before it completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	refreshCalls, _, _, _, _ := provider.calls()
	assert.Equal(t, 1, refreshCalls)

	require.Len(t, results, callers)
	for _, tok := range results {
		assert.Equal(t, "new-access", tok)
	}
}

func TestRefresh_InvalidGrantTransitionsToReauth(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-time.Minute))

	provider := &fakeProvider{
		refreshFn: func(string) (*oauth2.Token, error) {
			return nil, gmail.ErrInvalidGrant
		},
	}

	r := newTestRefresher(t, st, provider)

	_, err := r.Refresh(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrReauthRequired)

	acct, gerr := st.GetAccount(context.Background(), "acct-1")
	require.NoError(t, gerr)
	assert.Equal(t, store.AuthStateReauthRequired, acct.AuthState)

	// Further refreshes are refused without another provider call.
	_, err = r.Refresh(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrReauthRequired)

	refreshCalls, _, _, _, _ := provider.calls()
	assert.Equal(t, 1, refreshCalls)
}

func TestRefresh_TransientErrorKeepsAuthState(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-time.Minute))

	provider := &fakeProvider{
		refreshFn: func(string) (*oauth2.Token, error) {
			return nil, &url.Error{Op: "Post", URL: "https://oauth2.googleapis.com/token", Err: context.DeadlineExceeded}
		},
	}

	r := newTestRefresher(t, st, provider)

	_, err := r.Refresh(context.Background(), "acct-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReauthRequired)

	acct, gerr := st.GetAccount(context.Background(), "acct-1")
	require.NoError(t, gerr)
	assert.Equal(t, store.AuthStateActive, acct.AuthState)
}

func TestRefresh_UnknownAccount(t *testing.T) {
	st := newLifecycleStore(t)
	r := newTestRefresher(t, st, &fakeProvider{})

	_, err := r.Refresh(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestFreshToken_ReusesValidToken(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(30*time.Minute))

	provider := &fakeProvider{}
	r := newTestRefresher(t, st, provider)

	tok, err := r.FreshToken(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "access-acct-1", tok)

	refreshCalls, _, _, _, _ := provider.calls()
	assert.Zero(t, refreshCalls)
}

func TestFreshToken_RefreshesExpiredToken(t *testing.T) {
	st := newLifecycleStore(t)
	seedActiveAccount(t, st, "acct-1", "user@example.com", time.Now().Add(-time.Minute))

	provider := &fakeProvider{
		refreshFn: func(string) (*oauth2.Token, error) {
			return &oauth2.Token{
				AccessToken:  "minted",
				RefreshToken: "refresh-acct-1",
				Expiry:       time.Now().Add(time.Hour),
			}, nil
		},
	}

	r := newTestRefresher(t, st, provider)

	tok, err := r.FreshToken(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "minted", tok)
}
