// Package store persists the lifecycle engine's durable state — account
// token records, watch subscriptions, sync cursors, and the delivery
// dedup window — in an embedded SQLite database with WAL mode.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// Sentinel errors returned by store operations.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists means a unique constraint would be violated.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrCursorRegression means an update would move a sync cursor
	// backward. This is an invariant violation, never applied — the
	// stored cursor is left untouched and the caller must treat it as
	// a bug, not a retryable condition.
	ErrCursorRegression = errors.New("store: cursor regression")
)

// walJournalSizeLimit bounds the WAL journal to 64 MiB.
const walJournalSizeLimit = 67108864

// Store wraps the SQLite database and prepared statements for all
// lifecycle state. Use ":memory:" as the path in tests.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	accountStmts  accountStatements
	watchStmts    watchStatements
	cursorStmts   cursorStatements
	deliveryStmts deliveryStatements
}

// Statement groups keep the struct readable instead of a flat list.
type accountStatements struct {
	insert, get, getByEmail, list, updateTokens, setAuthState *sql.Stmt
}

type watchStatements struct {
	upsert, get, setState, listByState *sql.Stmt
}

type cursorStatements struct {
	get, seed, advance *sql.Stmt
}

type deliveryStatements struct {
	mark, prune *sql.Stmt
}

// Open creates a Store, opening the database at dbPath, applying
// migrations, and preparing all repeated statements.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening lifecycle state database", slog.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: prepare statements: %w", err)
	}

	logger.Info("lifecycle state database ready", slog.String("path", dbPath))

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("store: set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", slog.String("pragma", p.desc))
	}

	return nil
}

// prepareAllStatements prepares every repeated statement up front so a
// schema mismatch fails at open time, not mid-operation.
func (s *Store) prepareAllStatements(ctx context.Context) error {
	if err := s.prepareAccountStatements(ctx); err != nil {
		return err
	}

	if err := s.prepareWatchStatements(ctx); err != nil {
		return err
	}

	if err := s.prepareCursorStatements(ctx); err != nil {
		return err
	}

	return s.prepareDeliveryStatements(ctx)
}

// Close releases prepared statements and closes the database.
func (s *Store) Close() error {
	stmts := []*sql.Stmt{
		s.accountStmts.insert, s.accountStmts.get, s.accountStmts.getByEmail,
		s.accountStmts.list, s.accountStmts.updateTokens, s.accountStmts.setAuthState,
		s.watchStmts.upsert, s.watchStmts.get, s.watchStmts.setState, s.watchStmts.listByState,
		s.cursorStmts.get, s.cursorStmts.seed, s.cursorStmts.advance,
		s.deliveryStmts.mark, s.deliveryStmts.prune,
	}

	for _, st := range stmts {
		if st != nil {
			_ = st.Close()
		}
	}

	return s.db.Close()
}
