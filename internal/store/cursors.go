package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) prepareCursorStatements(ctx context.Context) error {
	var err error

	if s.cursorStmts.get, err = s.db.PrepareContext(ctx, `
		SELECT account_id, history_id, advanced_at
		FROM cursors WHERE account_id = ?`); err != nil {
		return err
	}

	if s.cursorStmts.seed, err = s.db.PrepareContext(ctx, `
		INSERT INTO cursors (account_id, history_id, advanced_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO NOTHING`); err != nil {
		return err
	}

	// The guard clause makes forward-only progress a database-level
	// invariant: a regressing write matches zero rows and nothing is
	// persisted.
	if s.cursorStmts.advance, err = s.db.PrepareContext(ctx, `
		UPDATE cursors SET history_id = ?, advanced_at = ?
		WHERE account_id = ? AND history_id <= ?`); err != nil {
		return err
	}

	return nil
}

// GetCursor returns the account's change-log position, or ErrNotFound
// if the account has never been seeded.
func (s *Store) GetCursor(ctx context.Context, accountID string) (*Cursor, error) {
	var (
		c        Cursor
		advanced int64
	)

	err := s.cursorStmts.get.QueryRowContext(ctx, accountID).Scan(
		&c.AccountID, &c.HistoryID, &advanced)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("store: get cursor: %w", err)
	}

	c.AdvancedAt = time.Unix(advanced, 0).UTC()

	return &c, nil
}

// SeedCursor records the project-start floor for an account at first
// authorization. A no-op if a cursor already exists — seeding never
// rewinds an established position.
func (s *Store) SeedCursor(ctx context.Context, accountID string, historyID uint64) error {
	_, err := s.cursorStmts.seed.ExecContext(ctx, accountID, historyID, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store: seed cursor: %w", err)
	}

	return nil
}

// AdvanceCursor moves the account's cursor forward to historyID.
// Equal values are an idempotent no-op. A value lower than the stored
// cursor returns ErrCursorRegression and writes nothing; an account
// with no cursor returns ErrNotFound (seed first).
func (s *Store) AdvanceCursor(ctx context.Context, accountID string, historyID uint64) error {
	res, err := s.cursorStmts.advance.ExecContext(ctx,
		historyID, time.Now().UTC().Unix(), accountID, historyID)
	if err != nil {
		return fmt.Errorf("store: advance cursor: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: advance cursor: %w", err)
	}

	if n > 0 {
		return nil
	}

	// Zero rows: either the cursor does not exist or the write would
	// have moved it backward. Distinguish for the caller.
	current, err := s.GetCursor(ctx, accountID)
	if err != nil {
		return err
	}

	return fmt.Errorf("store: cursor for %s at %d, refusing move to %d: %w",
		accountID, current.HistoryID, historyID, ErrCursorRegression)
}
