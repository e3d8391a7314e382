package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tonimelisma/mailwatch-go/internal/store"
)

// AccountStatus is the queryable per-account state the UI layer renders
// to decide whether to show a "re-authorization needed" prompt.
type AccountStatus struct {
	AccountID       string           `json:"account_id"`
	Email           string           `json:"email"`
	AuthState       store.AuthState  `json:"auth_state"`
	AccessExpiresAt time.Time        `json:"access_expires_at"`
	WatchState      store.WatchState `json:"watch_state"`
	WatchExpiresAt  *time.Time       `json:"watch_expires_at,omitempty"`
	HistoryID       uint64           `json:"history_id"`
	LastSyncedAt    *time.Time       `json:"last_synced_at,omitempty"`
}

// Status answers state queries from the store. Read-only.
type Status struct {
	store *store.Store
}

func NewStatus(st *store.Store) *Status {
	return &Status{store: st}
}

// Account returns the lifecycle state of one account.
func (s *Status) Account(ctx context.Context, accountID string) (*AccountStatus, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
		}

		return nil, err
	}

	return s.build(ctx, acct)
}

// All returns the lifecycle state of every account, ordered by id.
func (s *Status) All(ctx context.Context) ([]*AccountStatus, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]*AccountStatus, 0, len(accounts))

	for _, acct := range accounts {
		st, err := s.build(ctx, acct)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, st)
	}

	return statuses, nil
}

func (s *Status) build(ctx context.Context, acct *store.Account) (*AccountStatus, error) {
	st := &AccountStatus{
		AccountID:       acct.ID,
		Email:           acct.Email,
		AuthState:       acct.AuthState,
		AccessExpiresAt: acct.AccessExpiresAt,
		WatchState:      store.WatchStateUnregistered,
	}

	w, err := s.store.GetWatch(ctx, acct.ID)
	switch {
	case err == nil:
		st.WatchState = w.State
		st.WatchExpiresAt = &w.ExpiresAt
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	cur, err := s.store.GetCursor(ctx, acct.ID)
	switch {
	case err == nil:
		st.HistoryID = cur.HistoryID
		st.LastSyncedAt = &cur.AdvancedAt
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	return st, nil
}
