// Package sqlite provides a single-file SQLite implementation of the store
// interfaces, used for standalone deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/appforge/gateway/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	file_name TEXT NOT NULL,
	size INTEGER NOT NULL,
	package_id TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	has_keystore INTEGER NOT NULL DEFAULT 0,
	skip_alignment INTEGER NOT NULL DEFAULT 0,
	artifact_name TEXT,
	artifact_size INTEGER,
	content_hash TEXT,
	error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);

CREATE TABLE IF NOT EXISTS quota_counters (
	scope TEXT NOT NULL,
	identity TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (scope, identity, bucket)
);
`

// SQLiteStore implements store.Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	jobs   *JobStore
	quotas *QuotaStore
	logger *slog.Logger
}

// New opens (or creates) the database at path and initializes the schema.
// Use ":memory:" for an in-memory database.
func New(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// _txlock=immediate makes every transaction take the write lock up
	// front, serializing the read-modify-write cycles in WithTx.
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	if path == ":memory:" {
		dsn = ":memory:"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// SQLite allows a single writer; more connections just contend.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	s.jobs = &JobStore{db: db, logger: logger}
	s.quotas = &QuotaStore{db: db, logger: logger}
	return s, nil
}

// Jobs returns the JobStore for build job operations.
func (s *SQLiteStore) Jobs() store.JobStore { return s.jobs }

// Quotas returns the QuotaStore for quota ledger operations.
func (s *SQLiteStore) Quotas() store.QuotaStore { return s.quotas }

// WithTx executes fn within a transaction. The store passed to fn is bound
// to the transaction; mutations are rolled back when fn returns an error.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &SQLiteStore{
		db:     s.db,
		jobs:   &JobStore{db: s.db, tx: tx, logger: s.logger},
		quotas: &QuotaStore{db: s.db, tx: tx, logger: s.logger},
		logger: s.logger,
	}

	if err := fn(txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryable abstracts *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
