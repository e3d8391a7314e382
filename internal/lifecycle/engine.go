package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/mailwatch-go/internal/gmail"
	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// Options carries the tunable timing knobs for the engine.
type Options struct {
	Topic             string
	TickInterval      time.Duration
	RefreshLeadTime   time.Duration
	RenewalLeadTime   time.Duration
	TokenSafetyMargin time.Duration
	DedupWindow       time.Duration
	Workers           int
}

// Engine wires the lifecycle components over one store and one
// provider. It is the single entry point for serve and the HTTP layer.
type Engine struct {
	Refresher *Refresher
	Registrar *Registrar
	Scheduler *Scheduler
	Receiver  *Receiver
	Catchup   *Catchup
	Status    *Status

	store        *store.Store
	safetyMargin time.Duration
	notifier     Notifier
	logger       *slog.Logger
}

func NewEngine(st *store.Store, provider Provider, consumer Consumer, notifier Notifier, opts Options, logger *slog.Logger) *Engine {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	if logger == nil {
		logger = slog.Default()
	}

	refresher := NewRefresher(st, provider, opts.TokenSafetyMargin, notifier, logger)
	registrar := NewRegistrar(st, provider, refresher, opts.Topic, notifier, logger)
	catchup := NewCatchup(st, provider, refresher, consumer, logger)
	receiver := NewReceiver(st, catchup, opts.DedupWindow, logger)
	scheduler := NewScheduler(st, refresher, registrar,
		opts.TickInterval, opts.RefreshLeadTime, opts.RenewalLeadTime,
		opts.Workers, notifier, logger)

	return &Engine{
		Refresher:    refresher,
		Registrar:    registrar,
		Scheduler:    scheduler,
		Receiver:     receiver,
		Catchup:      catchup,
		Status:       NewStatus(st),
		store:        st,
		safetyMargin: opts.TokenSafetyMargin,
		notifier:     notifier,
		logger:       logger,
	}
}

// Run drives the scheduler until the context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.Catchup.Bind(ctx)

	return e.Scheduler.Run(ctx)
}

// Authorize records a successful authorization-code exchange. A new
// account is created on first authorization; a returning account gets
// its token pair replaced and its auth state restored. Either way the
// watch is (re)registered and a catch-up runs before Authorize returns,
// so the account resumes live coverage with no gap.
func (e *Engine) Authorize(ctx context.Context, email string, tok *oauth2.Token) (*store.Account, error) {
	if tok.RefreshToken == "" {
		return nil, errors.New("lifecycle: authorization grant carried no refresh token")
	}

	expiresAt := gmail.EffectiveExpiry(tok.Expiry, e.safetyMargin)

	acct, err := e.store.GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		acct = &store.Account{
			ID:              uuid.NewString(),
			Email:           email,
			AccessToken:     tok.AccessToken,
			AccessExpiresAt: expiresAt,
			RefreshToken:    tok.RefreshToken,
			AuthState:       store.AuthStateActive,
		}

		if cerr := e.store.CreateAccount(ctx, acct); cerr != nil {
			return nil, cerr
		}

		e.logger.Info("account authorized",
			slog.String("account_id", acct.ID),
			slog.String("email", email))

	case err != nil:
		return nil, err

	default:
		if uerr := e.store.UpdateTokens(ctx, acct.ID, tok.AccessToken, expiresAt, tok.RefreshToken, nil); uerr != nil {
			return nil, uerr
		}

		e.logger.Info("account re-authorized",
			slog.String("account_id", acct.ID),
			slog.String("email", email))
	}

	e.notifier.StateChanged(acct.ID)

	if err := e.resume(ctx, acct.ID); err != nil {
		return nil, err
	}

	if _, err := e.Catchup.Resync(ctx, acct.ID); err != nil {
		return nil, err
	}

	return e.store.GetAccount(ctx, acct.ID)
}

// CompleteReauth restores a known account after the user finished the
// re-authorization flow: the fresh token pair is stored atomically, the
// watch is re-registered, and every change missed during the dormancy
// is caught up before control returns.
func (e *Engine) CompleteReauth(ctx context.Context, accountID string, tok *oauth2.Token) (*SyncReport, error) {
	if tok.RefreshToken == "" {
		return nil, errors.New("lifecycle: re-authorization grant carried no refresh token")
	}

	expiresAt := gmail.EffectiveExpiry(tok.Expiry, e.safetyMargin)

	if err := e.store.UpdateTokens(ctx, accountID, tok.AccessToken, expiresAt, tok.RefreshToken, nil); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}

		return nil, err
	}

	e.notifier.StateChanged(accountID)

	if err := e.resume(ctx, accountID); err != nil {
		return nil, err
	}

	return e.Catchup.Resync(ctx, accountID)
}

// resume re-registers the watch after fresh tokens land. The first
// registration also seeds the cursor, so a subsequent resync has a
// floor to start from.
func (e *Engine) resume(ctx context.Context, accountID string) error {
	if _, err := e.Registrar.Register(ctx, accountID); err != nil {
		return fmt.Errorf("lifecycle: resuming coverage for %s: %w", accountID, err)
	}

	return nil
}
