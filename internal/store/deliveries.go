package store

import (
	"context"
	"fmt"
	"time"
)

func (s *Store) prepareDeliveryStatements(ctx context.Context) error {
	var err error

	if s.deliveryStmts.mark, err = s.db.PrepareContext(ctx, `
		INSERT INTO deliveries (token, received_at)
		VALUES (?, ?)
		ON CONFLICT(token) DO NOTHING`); err != nil {
		return err
	}

	if s.deliveryStmts.prune, err = s.db.PrepareContext(ctx, `
		DELETE FROM deliveries WHERE received_at < ?`); err != nil {
		return err
	}

	return nil
}

// MarkDelivery records a delivery token and reports whether it was
// fresh. The push transport is at-least-once; a false return means this
// exact delivery was already processed and must be acknowledged without
// further action.
func (s *Store) MarkDelivery(ctx context.Context, token string, receivedAt time.Time) (bool, error) {
	res, err := s.deliveryStmts.mark.ExecContext(ctx, token, receivedAt.Unix())
	if err != nil {
		return false, fmt.Errorf("store: mark delivery: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: mark delivery: %w", err)
	}

	return n > 0, nil
}

// PruneDeliveries drops dedup records older than cutoff and returns the
// number removed. The transport stops redelivering long before any
// reasonable window, so pruning cannot reopen a duplicate.
func (s *Store) PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.deliveryStmts.prune.ExecContext(ctx, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: prune deliveries: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: prune deliveries: %w", err)
	}

	return n, nil
}
