package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// fakeProvider lets each test script the provider's behavior through
// function fields while counting calls.
type fakeProvider struct {
	mu sync.Mutex

	refreshCalls int
	watchCalls   int
	stopCalls    int
	historyCalls int
	profileCalls int

	refreshFn func(refreshToken string) (*oauth2.Token, error)
	watchFn   func(accessToken, topic string) (*gmail.WatchInfo, error)
	stopFn    func(accessToken string) error
	historyFn func(accessToken string, start uint64, pageToken string) (*gmail.HistoryPage, error)
	profileFn func(accessToken string) (*gmail.Profile, error)
}

var errUnexpectedCall = errors.New("unexpected provider call")

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth2.Token, error) {
	p.mu.Lock()
	p.refreshCalls++
	fn := p.refreshFn
	p.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(refreshToken)
}

func (p *fakeProvider) Watch(_ context.Context, accessToken, topic string) (*gmail.WatchInfo, error) {
	p.mu.Lock()
	p.watchCalls++
	fn := p.watchFn
	p.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(accessToken, topic)
}

func (p *fakeProvider) StopWatch(_ context.Context, accessToken string) error {
	p.mu.Lock()
	p.stopCalls++
	fn := p.stopFn
	p.mu.Unlock()

	if fn == nil {
		return nil
	}

	return fn(accessToken)
}

func (p *fakeProvider) History(_ context.Context, accessToken string, start uint64, pageToken string) (*gmail.HistoryPage, error) {
	p.mu.Lock()
	p.historyCalls++
	fn := p.historyFn
	p.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(accessToken, start, pageToken)
}

func (p *fakeProvider) Profile(_ context.Context, accessToken string) (*gmail.Profile, error) {
	p.mu.Lock()
	p.profileCalls++
	fn := p.profileFn
	p.mu.Unlock()

	if fn == nil {
		return nil, errUnexpectedCall
	}

	return fn(accessToken)
}

func (p *fakeProvider) calls() (refresh, watch, stop, history, profile int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.refreshCalls, p.watchCalls, p.stopCalls, p.historyCalls, p.profileCalls
}

// recordingConsumer captures every batch handed off.
type recordingConsumer struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (c *recordingConsumer) HandleMessages(_ context.Context, _ string, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	batch := make([]string, len(ids))
	copy(batch, ids)
	c.batches = append(c.batches, batch)

	return nil
}

func (c *recordingConsumer) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, b := range c.batches {
		out = append(out, b...)
	}

	return out
}

// recordingResyncer counts catch-up triggers.
type recordingResyncer struct {
	mu       sync.Mutex
	accounts []string
}

func (r *recordingResyncer) Trigger(accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.accounts = append(r.accounts, accountID)
}

func (r *recordingResyncer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.accounts)
}

func newLifecycleStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(":memory:", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return st
}

func seedActiveAccount(t *testing.T, st *store.Store, id, email string, accessExpires time.Time) *store.Account {
	t.Helper()

	a := &store.Account{
		ID:              id,
		Email:           email,
		AccessToken:     "access-" + id,
		AccessExpiresAt: accessExpires,
		RefreshToken:    "refresh-" + id,
		AuthState:       store.AuthStateActive,
	}
	require.NoError(t, st.CreateAccount(context.Background(), a))

	return a
}

func seedActiveWatch(t *testing.T, st *store.Store, accountID string, expires time.Time) {
	t.Helper()

	require.NoError(t, st.UpsertWatch(context.Background(), &store.Watch{
		AccountID:    accountID,
		Topic:        "projects/p/topics/mail",
		State:        store.WatchStateActive,
		ExpiresAt:    expires,
		RegisteredAt: time.Now().UTC(),
	}))
}
