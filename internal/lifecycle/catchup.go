package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Catchup reconciles the gap between an account's stored cursor and
// the mailbox's current position. At most one pass runs per account;
// triggers arriving during a pass mark the account dirty and the
// running pass loops once more, so a burst of notifications coalesces
// into one walk of the change log.
type Catchup struct {
	store     *store.Store
	provider  Provider
	refresher *Refresher
	consumer  Consumer
	logger    *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	dirty  map[string]bool
	runCtx context.Context

	now func() time.Time
}

func NewCatchup(st *store.Store, p Provider, r *Refresher, consumer Consumer, logger *slog.Logger) *Catchup {
	if logger == nil {
		logger = slog.Default()
	}

	return &Catchup{
		store:     st,
		provider:  p,
		refresher: r,
		consumer:  consumer,
		logger:    logger,
		dirty:     make(map[string]bool),
		now:       time.Now,
	}
}

// Bind sets the context triggered resyncs run under, so passes started
// by push notifications stop when the daemon shuts down instead of
// racing a closing store.
func (c *Catchup) Bind(ctx context.Context) {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
}

func (c *Catchup) triggerContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.runCtx != nil {
		return c.runCtx
	}

	return context.Background()
}

// Trigger requests a resync without blocking the caller. Used by the
// notification intake path.
func (c *Catchup) Trigger(accountID string) {
	go func() {
		if _, err := c.Resync(c.triggerContext(), accountID); err != nil {
			c.logger.Warn("triggered resync failed",
				slog.String("account_id", accountID),
				slog.Any("error", err))
		}
	}()
}

func (c *Catchup) markDirty(accountID string) {
	c.mu.Lock()
	c.dirty[accountID] = true
	c.mu.Unlock()
}

// clearDirty consumes the account's dirty flag, reporting whether it
// was set.
func (c *Catchup) clearDirty(accountID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty[accountID] {
		return false
	}

	delete(c.dirty, accountID)

	return true
}

// Resync walks the change log from the account's cursor to the present,
// handing each batch to the consumer and advancing the cursor only
// after the hand-off succeeds. Concurrent callers for the same account
// share the in-flight pass; a trigger landing mid-pass makes the pass
// loop again before returning, so every caller observes a cursor at
// the position current when its request was admitted.
func (c *Catchup) Resync(ctx context.Context, accountID string) (*SyncReport, error) {
	c.markDirty(accountID)

	v, err, _ := c.group.Do(accountID, func() (any, error) {
		var total *SyncReport

		for c.clearDirty(accountID) {
			rep, err := c.resyncOnce(ctx, accountID)
			total = mergeReports(total, rep)

			if err != nil {
				return total, err
			}
		}

		return total, nil
	})

	rep, _ := v.(*SyncReport)

	return rep, err
}

func (c *Catchup) resyncOnce(ctx context.Context, accountID string) (*SyncReport, error) {
	started := c.now()

	cur, err := c.store.GetCursor(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lifecycle: account %s has no cursor, register a watch first: %w", accountID, err)
		}

		return nil, err
	}

	rep := &SyncReport{
		AccountID:      accountID,
		StartHistoryID: cur.HistoryID,
		EndHistoryID:   cur.HistoryID,
	}

	token, err := c.refresher.FreshToken(ctx, accountID)
	if err != nil {
		return rep, err
	}

	var (
		pageToken   string
		retriedAuth bool
	)

	for {
		if cerr := ctx.Err(); cerr != nil {
			rep.Partial = rep.BatchesApplied > 0
			rep.Duration = c.now().Sub(started)

			return rep, cerr
		}

		page, err := c.provider.History(ctx, token, rep.StartHistoryID, pageToken)
		if err != nil {
			switch {
			case errors.Is(err, gmail.ErrUnauthorized) && !retriedAuth:
				// Token rejected mid-fetch: refresh once and retry the
				// current page before escalating.
				retriedAuth = true

				acct, rerr := c.refresher.Refresh(ctx, accountID)
				if rerr != nil {
					rep.Partial = rep.BatchesApplied > 0
					rep.Duration = c.now().Sub(started)

					return rep, rerr
				}

				token = acct.AccessToken

				continue

			case errors.Is(err, gmail.ErrNotFound):
				return c.rebaseline(ctx, accountID, token, rep, started)

			case gmail.IsTransient(err) && rep.BatchesApplied > 0:
				// Retries inside the client are exhausted but earlier
				// batches are confirmed. Report partial progress; the
				// next pass continues from the advanced cursor.
				rep.Partial = true
				rep.Duration = c.now().Sub(started)

				c.logger.Warn("resync stopped early, cursor holds at last confirmed batch",
					slog.String("account_id", accountID),
					slog.Uint64("cursor_history_id", rep.EndHistoryID),
					slog.Any("error", err))

				return rep, nil

			default:
				rep.Duration = c.now().Sub(started)

				return rep, fmt.Errorf("lifecycle: resync for %s: %w", accountID, err)
			}
		}

		if len(page.MessageIDs) > 0 {
			if herr := c.consumer.HandleMessages(ctx, accountID, page.MessageIDs); herr != nil {
				// The batch was not confirmed; the cursor must not move
				// past it.
				rep.Partial = rep.BatchesApplied > 0
				rep.Duration = c.now().Sub(started)

				return rep, fmt.Errorf("lifecycle: consumer rejected batch for %s: %w", accountID, herr)
			}

			rep.MessagesSeen += len(page.MessageIDs)
		}

		// Cursor target: the last record in this page, or the mailbox's
		// current position once the final page is consumed.
		target := page.LastRecordID
		if page.NextPageToken == "" && page.HistoryID > target {
			target = page.HistoryID
		}

		if target > rep.EndHistoryID {
			if aerr := c.store.AdvanceCursor(ctx, accountID, target); aerr != nil {
				if errors.Is(aerr, store.ErrCursorRegression) {
					c.logger.Error("resync computed a backward cursor move, aborting",
						slog.String("account_id", accountID),
						slog.Any("error", aerr))
				}

				rep.Duration = c.now().Sub(started)

				return rep, aerr
			}

			rep.EndHistoryID = target
			rep.BatchesApplied++
		}

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	rep.Duration = c.now().Sub(started)

	c.logger.Info("resync complete",
		slog.String("account_id", accountID),
		slog.Uint64("start_history_id", rep.StartHistoryID),
		slog.Uint64("end_history_id", rep.EndHistoryID),
		slog.Int("messages", rep.MessagesSeen),
		slog.Int("batches", rep.BatchesApplied),
	)

	return rep, nil
}

// rebaseline handles a change log that no longer reaches back to the
// stored cursor. The gap is unrecoverable; the cursor jumps to the
// mailbox's current position and the reset is reported rather than
// silently skipped.
func (c *Catchup) rebaseline(ctx context.Context, accountID, token string, rep *SyncReport, started time.Time) (*SyncReport, error) {
	prof, err := c.provider.Profile(ctx, token)
	if err != nil {
		rep.Duration = c.now().Sub(started)

		return rep, fmt.Errorf("lifecycle: re-baselining cursor for %s: %w", accountID, err)
	}

	if err := c.store.AdvanceCursor(ctx, accountID, prof.HistoryID); err != nil {
		rep.Duration = c.now().Sub(started)

		return rep, err
	}

	rep.CursorReset = true
	rep.EndHistoryID = prof.HistoryID
	rep.Duration = c.now().Sub(started)

	c.logger.Warn("stored cursor older than provider retention, re-baselined at current position",
		slog.String("account_id", accountID),
		slog.Uint64("old_history_id", rep.StartHistoryID),
		slog.Uint64("new_history_id", prof.HistoryID),
	)

	return rep, nil
}

// mergeReports folds a follow-up pass's report into the running total.
func mergeReports(total, next *SyncReport) *SyncReport {
	if total == nil {
		return next
	}

	if next == nil {
		return total
	}

	total.EndHistoryID = next.EndHistoryID
	total.BatchesApplied += next.BatchesApplied
	total.MessagesSeen += next.MessagesSeen
	total.Partial = next.Partial
	total.CursorReset = total.CursorReset || next.CursorReset
	total.Duration += next.Duration

	return total
}
