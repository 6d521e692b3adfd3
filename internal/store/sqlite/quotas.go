package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/appforge/gateway/internal/models"
)

// QuotaStore implements store.QuotaStore using SQLite.
//
// With _txlock=immediate and a single connection, a transaction holds the
// write lock for its whole lifetime, so Count followed by Increment inside
// WithTx is race-free without row locking.
type QuotaStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

func (s *QuotaStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Count returns the consumed count for a key, zero when absent.
func (s *QuotaStore) Count(ctx context.Context, scope models.QuotaScope, identity, bucket string) (int, error) {
	query := `SELECT count FROM quota_counters WHERE scope = ? AND identity = ? AND bucket = ?`

	var count int
	err := s.conn().QueryRowContext(ctx, query, string(scope), identity, bucket).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("querying quota counter: %w", err)
	}
	return count, nil
}

// Touch ensures a counter row exists with at least a zero count.
func (s *QuotaStore) Touch(ctx context.Context, scope models.QuotaScope, identity, bucket string) error {
	query := `
		INSERT INTO quota_counters (scope, identity, bucket, count)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(scope, identity, bucket) DO NOTHING`

	if _, err := s.conn().ExecContext(ctx, query, string(scope), identity, bucket); err != nil {
		return fmt.Errorf("touching quota counter: %w", err)
	}
	return nil
}

// Increment adds one to a counter, creating it when absent.
func (s *QuotaStore) Increment(ctx context.Context, scope models.QuotaScope, identity, bucket string) error {
	query := `
		INSERT INTO quota_counters (scope, identity, bucket, count)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(scope, identity, bucket) DO UPDATE SET count = count + 1`

	if _, err := s.conn().ExecContext(ctx, query, string(scope), identity, bucket); err != nil {
		return fmt.Errorf("incrementing quota counter: %w", err)
	}
	return nil
}
