// Package store provides durable state access interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/appforge/gateway/internal/models"
)

// Common errors returned by store operations.
var (
	// ErrNotFound is returned when a requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrNoJobs is returned when no queued jobs are available.
	ErrNoJobs = errors.New("no jobs available")
)

// JobStore defines operations for build job management.
type JobStore interface {
	// Create persists a new build job.
	Create(ctx context.Context, job *models.BuildJob) error
	// Get retrieves a build job by ID.
	Get(ctx context.Context, id string) (*models.BuildJob, error)
	// List retrieves all build jobs, newest first.
	List(ctx context.Context) ([]*models.BuildJob, error)
	// Update replaces an existing job record by ID. Idempotent.
	Update(ctx context.Context, job *models.BuildJob) error
	// NextQueued retrieves the oldest queued job, ties broken by
	// insertion order. Returns ErrNoJobs when the queue is empty.
	NextQueued(ctx context.Context) (*models.BuildJob, error)
	// ListRunning retrieves all jobs with status 'running'.
	// Used for startup recovery to identify interrupted builds.
	ListRunning(ctx context.Context) ([]*models.BuildJob, error)
}

// QuotaStore defines operations on the quota counter ledger.
//
// Counters are keyed by (scope, identity, bucket). Buckets for past periods
// are retained but never consulted again except for audit.
type QuotaStore interface {
	// Count returns the consumed count for a key, zero when absent.
	// Inside WithTx, implementations keep the counter row locked until
	// the transaction ends so that check-then-increment is race-free.
	Count(ctx context.Context, scope models.QuotaScope, identity, bucket string) (int, error)
	// Touch ensures a counter row exists with at least a zero count.
	Touch(ctx context.Context, scope models.QuotaScope, identity, bucket string) error
	// Increment adds one to a counter, creating it when absent.
	Increment(ctx context.Context, scope models.QuotaScope, identity, bucket string) error
}

// Store is the main interface for durable state operations.
type Store interface {
	// Jobs returns the JobStore for build job operations.
	Jobs() JobStore
	// Quotas returns the QuotaStore for quota ledger operations.
	Quotas() QuotaStore

	// WithTx executes the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// Otherwise, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error

	// Ping verifies the underlying storage is reachable.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
