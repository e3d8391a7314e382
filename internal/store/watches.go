package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) prepareWatchStatements(ctx context.Context) error {
	var err error

	if s.watchStmts.upsert, err = s.db.PrepareContext(ctx, `
		INSERT INTO watches (account_id, topic, state, expires_at, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			topic = excluded.topic,
			state = excluded.state,
			expires_at = excluded.expires_at,
			registered_at = excluded.registered_at`); err != nil {
		return err
	}

	if s.watchStmts.get, err = s.db.PrepareContext(ctx, `
		SELECT account_id, topic, state, expires_at, registered_at
		FROM watches WHERE account_id = ?`); err != nil {
		return err
	}

	if s.watchStmts.setState, err = s.db.PrepareContext(ctx, `
		UPDATE watches SET state = ? WHERE account_id = ?`); err != nil {
		return err
	}

	if s.watchStmts.listByState, err = s.db.PrepareContext(ctx, `
		SELECT account_id, topic, state, expires_at, registered_at
		FROM watches WHERE state = ? ORDER BY expires_at`); err != nil {
		return err
	}

	return nil
}

// UpsertWatch records a (re)registered subscription. The provider's
// latest-call-wins semantics map onto a plain upsert: one row per
// account, replaced on renewal.
func (s *Store) UpsertWatch(ctx context.Context, w *Watch) error {
	_, err := s.watchStmts.upsert.ExecContext(ctx,
		w.AccountID, w.Topic, string(w.State),
		w.ExpiresAt.Unix(), w.RegisteredAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: upsert watch: %w", err)
	}

	return nil
}

// GetWatch returns the subscription record for an account, or
// ErrNotFound if the account was never registered.
func (s *Store) GetWatch(ctx context.Context, accountID string) (*Watch, error) {
	var (
		w                   Watch
		state               string
		expires, registered int64
	)

	err := s.watchStmts.get.QueryRowContext(ctx, accountID).Scan(
		&w.AccountID, &w.Topic, &state, &expires, &registered)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("store: get watch: %w", err)
	}

	w.State = WatchState(state)
	w.ExpiresAt = time.Unix(expires, 0).UTC()
	w.RegisteredAt = time.Unix(registered, 0).UTC()

	return &w, nil
}

// SetWatchState transitions the subscription state without touching the
// registration details (used to mark a lapsed watch expired).
func (s *Store) SetWatchState(ctx context.Context, accountID string, state WatchState) error {
	res, err := s.watchStmts.setState.ExecContext(ctx, string(state), accountID)
	if err != nil {
		return fmt.Errorf("store: set watch state: %w", err)
	}

	return requireRow(res, accountID)
}

// ListWatchesByState returns all subscriptions in the given state,
// soonest expiry first.
func (s *Store) ListWatchesByState(ctx context.Context, state WatchState) ([]*Watch, error) {
	rows, err := s.watchStmts.listByState.QueryContext(ctx, string(state))
	if err != nil {
		return nil, fmt.Errorf("store: list watches: %w", err)
	}
	defer rows.Close()

	var watches []*Watch

	for rows.Next() {
		var (
			w                   Watch
			st                  string
			expires, registered int64
		)

		if err := rows.Scan(&w.AccountID, &w.Topic, &st, &expires, &registered); err != nil {
			return nil, fmt.Errorf("store: scan watch: %w", err)
		}

		w.State = WatchState(st)
		w.ExpiresAt = time.Unix(expires, 0).UTC()
		w.RegisteredAt = time.Unix(registered, 0).UTC()
		watches = append(watches, &w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list watches: %w", err)
	}

	return watches, nil
}
