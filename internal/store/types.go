package store

import "time"

// AuthState tracks whether an account's credentials can still mint
// access tokens without user interaction.
type AuthState string

const (
	// AuthStateActive means the stored refresh token is believed valid.
	AuthStateActive AuthState = "active"

	// AuthStateReauthRequired means a refresh failed with invalid_grant
	// (or a watch registration was rejected for auth reasons). The
	// engine stops touching the account until the user re-authorizes.
	AuthStateReauthRequired AuthState = "reauth_required"
)

// WatchState tracks the push-notification subscription for an account.
type WatchState string

const (
	WatchStateUnregistered WatchState = "unregistered"
	WatchStateActive       WatchState = "active"
	WatchStateExpired      WatchState = "expired"
)

// Account is the durable per-mailbox token record. AccessExpiresAt is
// always derived from the provider's reported TTL (already shortened by
// the safety margin), never hand-set.
type Account struct {
	ID          string
	Email       string
	AccessToken string

	// AccessExpiresAt is the effective expiry of AccessToken.
	AccessExpiresAt time.Time

	RefreshToken string

	// RefreshExpiresAt is nil when the provider did not disclose a
	// refresh-token TTL.
	RefreshExpiresAt *time.Time

	AuthState AuthState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Watch is the push-notification subscription record. At most one per
// account; re-registration replaces the row.
type Watch struct {
	AccountID    string
	Topic        string
	State        WatchState
	ExpiresAt    time.Time
	RegisteredAt time.Time
}

// Cursor is the per-account position in the mailbox change log.
// HistoryID only moves forward.
type Cursor struct {
	AccountID  string
	HistoryID  uint64
	AdvancedAt time.Time
}
