package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (s *Store) prepareAccountStatements(ctx context.Context) error {
	var err error

	if s.accountStmts.insert, err = s.db.PrepareContext(ctx, `
		INSERT INTO accounts (id, email, access_token, access_expires_at,
			refresh_token, refresh_expires_at, auth_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return err
	}

	if s.accountStmts.get, err = s.db.PrepareContext(ctx, `
		SELECT id, email, access_token, access_expires_at, refresh_token,
			refresh_expires_at, auth_state, created_at, updated_at
		FROM accounts WHERE id = ?`); err != nil {
		return err
	}

	if s.accountStmts.getByEmail, err = s.db.PrepareContext(ctx, `
		SELECT id, email, access_token, access_expires_at, refresh_token,
			refresh_expires_at, auth_state, created_at, updated_at
		FROM accounts WHERE email = ?`); err != nil {
		return err
	}

	if s.accountStmts.list, err = s.db.PrepareContext(ctx, `
		SELECT id, email, access_token, access_expires_at, refresh_token,
			refresh_expires_at, auth_state, created_at, updated_at
		FROM accounts ORDER BY id`); err != nil {
		return err
	}

	if s.accountStmts.updateTokens, err = s.db.PrepareContext(ctx, `
		UPDATE accounts
		SET access_token = ?, access_expires_at = ?, refresh_token = ?,
			refresh_expires_at = ?, auth_state = 'active', updated_at = ?
		WHERE id = ?`); err != nil {
		return err
	}

	if s.accountStmts.setAuthState, err = s.db.PrepareContext(ctx, `
		UPDATE accounts SET auth_state = ?, updated_at = ? WHERE id = ?`); err != nil {
		return err
	}

	return nil
}

// CreateAccount inserts a new account record. Returns ErrAlreadyExists
// if the id or email is already present.
func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	if a.AuthState == "" {
		a.AuthState = AuthStateActive
	}

	_, err := s.accountStmts.insert.ExecContext(ctx,
		a.ID, a.Email, a.AccessToken, a.AccessExpiresAt.Unix(),
		a.RefreshToken, nullableUnix(a.RefreshExpiresAt),
		string(a.AuthState), now.Unix(), now.Unix(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("store: account %s: %w", a.ID, ErrAlreadyExists)
		}

		return fmt.Errorf("store: create account: %w", err)
	}

	return nil
}

// GetAccount returns the account with the given id, or ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	return scanAccount(s.accountStmts.get.QueryRowContext(ctx, id))
}

// GetAccountByEmail returns the account owning the given mailbox
// address, or ErrNotFound. Used to route inbound notifications, which
// identify the mailbox by address rather than account id.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*Account, error) {
	return scanAccount(s.accountStmts.getByEmail.QueryRowContext(ctx, email))
}

// ListAccounts returns every account, ordered by id.
func (s *Store) ListAccounts(ctx context.Context) ([]*Account, error) {
	rows, err := s.accountStmts.list.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account

	for rows.Next() {
		a, err := scanAccountRow(rows)
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}

	return accounts, nil
}

// UpdateTokens atomically replaces the token pair for an account and
// marks it active. Tokens are only ever written after a successful
// exchange or refresh, so the pair is never partially updated and the
// account is by definition authorized again.
func (s *Store) UpdateTokens(ctx context.Context, id, accessToken string, accessExpires time.Time, refreshToken string, refreshExpires *time.Time) error {
	res, err := s.accountStmts.updateTokens.ExecContext(ctx,
		accessToken, accessExpires.Unix(), refreshToken,
		nullableUnix(refreshExpires), time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("store: update tokens: %w", err)
	}

	return requireRow(res, id)
}

// SetAuthState transitions the account's auth state.
func (s *Store) SetAuthState(ctx context.Context, id string, state AuthState) error {
	res, err := s.accountStmts.setAuthState.ExecContext(ctx, string(state), time.Now().UTC().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: set auth state: %w", err)
	}

	return requireRow(res, id)
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row *sql.Row) (*Account, error) {
	a, err := scanAccountRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	return a, err
}

func scanAccountRow(row rowScanner) (*Account, error) {
	var (
		a                Account
		accessExpires    int64
		refreshExpires   sql.NullInt64
		authState        string
		created, updated int64
	)

	err := row.Scan(&a.ID, &a.Email, &a.AccessToken, &accessExpires,
		&a.RefreshToken, &refreshExpires, &authState, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("store: scan account: %w", err)
	}

	a.AccessExpiresAt = time.Unix(accessExpires, 0).UTC()
	a.AuthState = AuthState(authState)
	a.CreatedAt = time.Unix(created, 0).UTC()
	a.UpdatedAt = time.Unix(updated, 0).UTC()

	if refreshExpires.Valid {
		t := time.Unix(refreshExpires.Int64, 0).UTC()
		a.RefreshExpiresAt = &t
	}

	return &a, nil
}

// nullableUnix converts an optional time to a nullable unix timestamp.
func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Unix()
}

// requireRow converts a zero-row update into ErrNotFound.
func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected: %w", err)
	}

	if n == 0 {
		return fmt.Errorf("store: account %s: %w", id, ErrNotFound)
	}

	return nil
}

// isUniqueViolation detects SQLite unique-constraint failures without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
