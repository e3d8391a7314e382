package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Scheduler is the clock-driven control loop. Each tick it walks every
// account and triggers a proactive token refresh or watch renewal when
// the corresponding lead window has opened. Accounts waiting on
// re-authorization are skipped until an external flow restores them.
type Scheduler struct {
	store     *store.Store
	refresher *Refresher
	registrar *Registrar
	notifier  Notifier
	logger    *slog.Logger

	tick        time.Duration
	refreshLead time.Duration
	renewalLead time.Duration
	workers     int

	now func() time.Time
}

func NewScheduler(st *store.Store, r *Refresher, g *Registrar, tick, refreshLead, renewalLead time.Duration, workers int, notifier Notifier, logger *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}

	if notifier == nil {
		notifier = NopNotifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		store:       st,
		refresher:   r,
		registrar:   g,
		notifier:    notifier,
		logger:      logger,
		tick:        tick,
		refreshLead: refreshLead,
		renewalLead: renewalLead,
		workers:     workers,
		now:         time.Now,
	}
}

// Run ticks until the context is cancelled. One pass runs immediately
// so a restart does not wait a full tick to notice overdue work.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Pass(ctx)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Pass(ctx)
		}
	}
}

// Pass runs one scheduling pass over every account, fanning out through
// a bounded worker group. Accounts are independent; a failure on one
// never blocks the others.
func (s *Scheduler) Pass(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("scheduler pass: listing accounts", slog.Any("error", err))
		return
	}

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, acct := range accounts {
		g.Go(func() error {
			s.checkAccount(ctx, acct)
			return nil
		})
	}

	_ = g.Wait()
}

func (s *Scheduler) checkAccount(ctx context.Context, acct *store.Account) {
	if acct.AuthState != store.AuthStateActive {
		s.logger.Debug("skipping account awaiting re-authorization",
			slog.String("account_id", acct.ID))
		return
	}

	now := s.now()

	if !now.Add(s.refreshLead).Before(acct.AccessExpiresAt) {
		if _, err := s.refresher.Refresh(ctx, acct.ID); err != nil {
			// ErrReauthRequired already moved the account's state; the
			// next pass skips it. Transient failures retry next tick,
			// inside the lead window.
			s.logger.Warn("proactive token refresh failed",
				slog.String("account_id", acct.ID),
				slog.Any("error", err))
		}
	}

	s.checkWatch(ctx, acct.ID, now)
}

func (s *Scheduler) checkWatch(ctx context.Context, accountID string, now time.Time) {
	w, err := s.store.GetWatch(ctx, accountID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("scheduler: loading watch",
				slog.String("account_id", accountID),
				slog.Any("error", err))
		}

		// No watch row: the account was never registered. Registration
		// is an explicit operation, not something the scheduler invents.
		return
	}

	switch {
	case w.State == store.WatchStateActive && now.After(w.ExpiresAt):
		// The renewal window was missed entirely. The provider has
		// stopped delivering and will not resume on its own, so this is
		// escalated loudly before attempting recovery.
		s.logger.Error("watch expired without renewal, coverage gap until re-registration",
			slog.String("account_id", accountID),
			slog.Time("expired_at", w.ExpiresAt),
			slog.Any("error", ErrWatchEscalated))

		if serr := s.store.SetWatchState(ctx, accountID, store.WatchStateExpired); serr != nil {
			s.logger.Error("scheduler: marking watch expired",
				slog.String("account_id", accountID),
				slog.Any("error", serr))
			return
		}

		s.notifier.StateChanged(accountID)
		s.renew(ctx, accountID)

	case w.State == store.WatchStateActive && !now.Add(s.renewalLead).Before(w.ExpiresAt):
		s.renew(ctx, accountID)

	case w.State == store.WatchStateExpired:
		// Keep trying to restore coverage every pass.
		s.renew(ctx, accountID)
	}
}

func (s *Scheduler) renew(ctx context.Context, accountID string) {
	if _, err := s.registrar.Register(ctx, accountID); err != nil {
		s.logger.Warn("watch renewal failed",
			slog.String("account_id", accountID),
			slog.Any("error", err))
	}
}
