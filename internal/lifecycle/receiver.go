package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Resyncer triggers a catch-up pass without blocking the caller.
// Satisfied by *Catchup.
type Resyncer interface {
	Trigger(accountID string)
}

// Receiver validates inbound push deliveries and converts them into
// catch-up triggers. The transport is at-least-once, so every delivery
// is deduplicated by its token before it can cause any work.
type Receiver struct {
	store  *store.Store
	resync Resyncer
	logger *slog.Logger

	// dedupWindow bounds how long delivery tokens are remembered.
	dedupWindow time.Duration

	now func() time.Time
}

func NewReceiver(st *store.Store, resync Resyncer, dedupWindow time.Duration, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Receiver{
		store:       st,
		resync:      resync,
		logger:      logger,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
}

// OnDelivery handles one push notification. Deliveries that cannot be
// tied to an active, unexpired watch return ErrStaleSubscription and
// are dropped; the provider stops sending once the subscription truly
// ends, so there is nothing to retry. Duplicates and notifications that
// carry no new position are acknowledged without triggering a resync.
func (r *Receiver) OnDelivery(ctx context.Context, n Notification) error {
	acct, err := r.store.GetAccountByEmail(ctx, n.EmailAddress)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no account for %s", ErrStaleSubscription, n.EmailAddress)
		}

		return err
	}

	now := r.now().UTC()

	w, err := r.store.GetWatch(ctx, acct.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: account %s has no watch", ErrStaleSubscription, acct.ID)
		}

		return err
	}

	if w.State != store.WatchStateActive || now.After(w.ExpiresAt) {
		return fmt.Errorf("%w: watch for %s is %s", ErrStaleSubscription, acct.ID, w.State)
	}

	fresh, err := r.store.MarkDelivery(ctx, n.DeliveryToken, now)
	if err != nil {
		return err
	}

	if !fresh {
		r.logger.Debug("duplicate delivery acknowledged",
			slog.String("account_id", acct.ID),
			slog.String("delivery_token", n.DeliveryToken))
		return nil
	}

	// Expired dedup entries are swept opportunistically on intake.
	if _, perr := r.store.PruneDeliveries(ctx, now.Add(-r.dedupWindow)); perr != nil {
		r.logger.Warn("pruning delivery dedup window", slog.Any("error", perr))
	}

	if cur, cerr := r.store.GetCursor(ctx, acct.ID); cerr == nil && n.HistoryID != 0 && n.HistoryID <= cur.HistoryID {
		r.logger.Debug("notification carries no new changes",
			slog.String("account_id", acct.ID),
			slog.Uint64("notified_history_id", n.HistoryID),
			slog.Uint64("cursor_history_id", cur.HistoryID))
		return nil
	}

	r.logger.Info("change notification accepted",
		slog.String("account_id", acct.ID),
		slog.Uint64("history_id", n.HistoryID))

	r.resync.Trigger(acct.ID)

	return nil
}
