// Package lifecycle coordinates the three expiration clocks of a
// provider mailbox integration: the short-lived access token, the
// long-lived refresh token, and the hard-capped push-notification
// watch. It owns proactive renewal scheduling, notification intake,
// and catch-up reconciliation so that no mailbox change is silently
// lost and no change is handed off twice.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
)

var (
	// ErrAccountNotFound is returned for operations on unknown accounts.
	ErrAccountNotFound = errors.New("lifecycle: account not found")

	// ErrReauthRequired means the account's refresh token is dead or its
	// credentials were rejected. The engine never retries past this; the
	// user must complete a new authorization.
	ErrReauthRequired = errors.New("lifecycle: re-authorization required")

	// ErrWatchEscalated means a watch passed its hard expiry without a
	// successful renewal. Coverage has a gap until re-registration
	// succeeds.
	ErrWatchEscalated = errors.New("lifecycle: watch expired without renewal")

	// ErrStaleSubscription marks an inbound delivery that cannot be tied
	// to an active, unexpired watch. Discarded, never retried.
	ErrStaleSubscription = errors.New("lifecycle: stale or unknown subscription")
)

// Provider abstracts the mail provider's API surface the engine calls.
// Satisfied by GmailProvider in production and by fakes in tests.
type Provider interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Watch(ctx context.Context, accessToken, topic string) (*gmail.WatchInfo, error)
	StopWatch(ctx context.Context, accessToken string) error
	History(ctx context.Context, accessToken string, startHistoryID uint64, pageToken string) (*gmail.HistoryPage, error)
	Profile(ctx context.Context, accessToken string) (*gmail.Profile, error)
}

// Consumer receives the message ids of each confirmed change batch.
// The cursor only advances after HandleMessages returns nil, so the
// engine delivers at least once; the consumer must tolerate replays.
type Consumer interface {
	HandleMessages(ctx context.Context, accountID string, messageIDs []string) error
}

// Notifier is told when an account's auth or watch state changes, so a
// UI layer can re-render without polling. Implementations must not
// block.
type Notifier interface {
	StateChanged(accountID string)
}

// NopNotifier discards state-change signals.
type NopNotifier struct{}

func (NopNotifier) StateChanged(string) {}

// SyncReport summarizes one resync pass.
type SyncReport struct {
	AccountID      string `json:"account_id"`
	StartHistoryID uint64 `json:"start_history_id"`
	EndHistoryID   uint64 `json:"end_history_id"`
	BatchesApplied int    `json:"batches_applied"`
	MessagesSeen   int    `json:"messages_seen"`

	// Partial means the pass stopped before reaching the mailbox's
	// current position; the cursor holds at the last confirmed batch.
	Partial bool `json:"partial"`

	// CursorReset means the stored cursor was older than the provider's
	// change-log retention and was re-baselined at the current profile
	// position. Changes in the gap are unrecoverable.
	CursorReset bool `json:"cursor_reset"`

	Duration time.Duration `json:"duration"`
}

// Notification is one inbound push delivery, decoded from the
// transport envelope.
type Notification struct {
	EmailAddress  string
	HistoryID     uint64
	DeliveryToken string
}
