package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Refresher exchanges refresh tokens for fresh access tokens. Refreshes
// are single-flighted per account: concurrent callers share one
// provider call and one persisted result.
type Refresher struct {
	store    *store.Store
	provider Provider
	notifier Notifier
	logger   *slog.Logger

	// safetyMargin shortens the provider-reported access token TTL to
	// tolerate clock skew between us and the provider.
	safetyMargin time.Duration

	group singleflight.Group
	now   func() time.Time
}

func NewRefresher(st *store.Store, p Provider, safetyMargin time.Duration, notifier Notifier, logger *slog.Logger) *Refresher {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		store:        st,
		provider:     p,
		notifier:     notifier,
		logger:       logger,
		safetyMargin: safetyMargin,
		now:          time.Now,
	}
}

// Refresh mints a new access token for the account and persists the
// token pair atomically. An invalid_grant response moves the account to
// reauth_required and returns ErrReauthRequired; transient provider
// failures return unchanged for the caller to retry on its own cadence.
func (r *Refresher) Refresh(ctx context.Context, accountID string) (*store.Account, error) {
	v, err, shared := r.group.Do(accountID, func() (any, error) {
		return r.refresh(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		r.logger.Debug("refresh result shared with concurrent caller",
			slog.String("account_id", accountID))
	}

	return v.(*store.Account), nil
}

func (r *Refresher) refresh(ctx context.Context, accountID string) (*store.Account, error) {
	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}

		return nil, err
	}

	if acct.AuthState != store.AuthStateActive {
		return nil, fmt.Errorf("%w: account %s", ErrReauthRequired, accountID)
	}

	tok, err := r.provider.Refresh(ctx, acct.RefreshToken)
	if err != nil {
		if errors.Is(err, gmail.ErrInvalidGrant) {
			r.logger.Warn("refresh token rejected, account needs re-authorization",
				slog.String("account_id", accountID))

			if serr := r.store.SetAuthState(ctx, accountID, store.AuthStateReauthRequired); serr != nil {
				return nil, serr
			}

			r.notifier.StateChanged(accountID)

			return nil, fmt.Errorf("%w: account %s: %w", ErrReauthRequired, accountID, err)
		}

		return nil, fmt.Errorf("lifecycle: refreshing account %s: %w", accountID, err)
	}

	expiresAt := gmail.EffectiveExpiry(tok.Expiry, r.safetyMargin)

	if err := r.store.UpdateTokens(ctx, accountID, tok.AccessToken, expiresAt, tok.RefreshToken, acct.RefreshExpiresAt); err != nil {
		return nil, err
	}

	r.logger.Info("access token refreshed",
		slog.String("account_id", accountID),
		slog.Time("expires_at", expiresAt),
		slog.Bool("refresh_token_rotated", tok.RefreshToken != acct.RefreshToken),
	)

	return r.store.GetAccount(ctx, accountID)
}

// FreshToken returns an access token valid right now, refreshing first
// when the stored one has reached its effective expiry. Callers with a
// data dependency on a live credential (watch registration, catch-up)
// go through here rather than reading the store directly.
func (r *Refresher) FreshToken(ctx context.Context, accountID string) (string, error) {
	acct, err := r.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}

		return "", err
	}

	if acct.AuthState != store.AuthStateActive {
		return "", fmt.Errorf("%w: account %s", ErrReauthRequired, accountID)
	}

	if r.now().Before(acct.AccessExpiresAt) {
		return acct.AccessToken, nil
	}

	acct, err = r.Refresh(ctx, accountID)
	if err != nil {
		return "", err
	}

	return acct.AccessToken, nil
}
