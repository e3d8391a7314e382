package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Registrar registers and renews push-notification watches. At most one
// registration runs per account; registration waits on a valid access
// token (a data dependency on the refresher, not a lock).
type Registrar struct {
	store     *store.Store
	provider  Provider
	refresher *Refresher
	notifier  Notifier
	logger    *slog.Logger

	// topic is the Pub/Sub topic the provider pushes notifications to.
	topic string

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewRegistrar(st *store.Store, p Provider, r *Refresher, topic string, notifier Notifier, logger *slog.Logger) *Registrar {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Registrar{
		store:     st,
		provider:  p,
		refresher: r,
		notifier:  notifier,
		logger:    logger,
		topic:     topic,
		locks:     make(map[string]*sync.Mutex),
		now:       time.Now,
	}
}

func (g *Registrar) accountLock(accountID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[accountID] = l
	}

	return l
}

// Register creates or replaces the account's watch. The provider's
// semantics are latest-call-wins, so calling this with an active watch
// simply renews it. The previous watch is stopped best-effort first; a
// failed stop never aborts registration.
func (g *Registrar) Register(ctx context.Context, accountID string) (*store.Watch, error) {
	lock := g.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	token, err := g.refresher.FreshToken(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if prev, gerr := g.store.GetWatch(ctx, accountID); gerr == nil && prev.State == store.WatchStateActive {
		if serr := g.provider.StopWatch(ctx, token); serr != nil {
			g.logger.Warn("stopping previous watch failed, registering anyway",
				slog.String("account_id", accountID),
				slog.Any("error", serr))
		}
	}

	info, err := g.provider.Watch(ctx, token, g.topic)
	if err != nil {
		if errors.Is(err, gmail.ErrUnauthorized) || errors.Is(err, gmail.ErrForbidden) {
			g.logger.Warn("watch registration rejected, account needs re-authorization",
				slog.String("account_id", accountID))

			if serr := g.store.SetAuthState(ctx, accountID, store.AuthStateReauthRequired); serr != nil {
				return nil, serr
			}

			g.notifier.StateChanged(accountID)

			return nil, fmt.Errorf("%w: account %s: %w", ErrReauthRequired, accountID, err)
		}

		return nil, fmt.Errorf("lifecycle: registering watch for %s: %w", accountID, err)
	}

	w := &store.Watch{
		AccountID:    accountID,
		Topic:        g.topic,
		State:        store.WatchStateActive,
		ExpiresAt:    info.Expires,
		RegisteredAt: g.now().UTC(),
	}

	if err := g.store.UpsertWatch(ctx, w); err != nil {
		return nil, err
	}

	// First-ever registration fixes the catch-up floor at the watch's
	// starting position. A no-op for accounts with an established
	// cursor.
	if err := g.store.SeedCursor(ctx, accountID, info.HistoryID); err != nil {
		return nil, err
	}

	g.notifier.StateChanged(accountID)

	g.logger.Info("watch registered",
		slog.String("account_id", accountID),
		slog.Time("expires_at", info.Expires),
		slog.Uint64("history_id", info.HistoryID),
	)

	return w, nil
}

// Revoke stops the account's watch at the provider and marks it
// unregistered. The account record stays; revocation is not deletion.
func (g *Registrar) Revoke(ctx context.Context, accountID string) error {
	lock := g.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	token, err := g.refresher.FreshToken(ctx, accountID)
	if err != nil && !errors.Is(err, ErrReauthRequired) {
		return err
	}

	if token != "" {
		if serr := g.provider.StopWatch(ctx, token); serr != nil {
			g.logger.Warn("stopping watch at provider failed",
				slog.String("account_id", accountID),
				slog.Any("error", serr))
		}
	}

	if err := g.store.SetWatchState(ctx, accountID, store.WatchStateUnregistered); err != nil {
		return err
	}

	g.notifier.StateChanged(accountID)

	return nil
}
