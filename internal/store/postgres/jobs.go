package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/store"
)

// JobStore implements store.JobStore using PostgreSQL.
type JobStore struct {
	db     *sql.DB
	tx     *sql.Tx
	logger *slog.Logger
}

// conn returns the queryable connection (transaction or database).
func (s *JobStore) conn() queryable {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

const jobColumns = `id, status, file_name, size, package_id, version,
	has_keystore, skip_alignment, artifact_name, artifact_size, content_hash,
	error, created_at, started_at, completed_at`

// Create persists a new build job.
func (s *JobStore) Create(ctx context.Context, job *models.BuildJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO jobs (id, status, file_name, size, package_id, version,
			has_keystore, skip_alignment, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.conn().ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		job.Input.FileName,
		job.Input.Size,
		job.Input.PackageID,
		job.Input.Version,
		job.Input.HasKeystore,
		job.Input.SkipAlignment,
		job.Error,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created build job", "job_id", job.ID)
	return nil
}

// Get retrieves a build job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(s.conn().QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("querying job: %w", err)
	}
	return job, nil
}

// List retrieves all build jobs, newest first.
func (s *JobStore) List(ctx context.Context) ([]*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, seq DESC`
	return s.queryJobs(ctx, query)
}

// Update replaces an existing job record by ID.
func (s *JobStore) Update(ctx context.Context, job *models.BuildJob) error {
	query := `
		UPDATE jobs
		SET status = $1, file_name = $2, size = $3, package_id = $4,
			version = $5, has_keystore = $6, skip_alignment = $7,
			artifact_name = $8, artifact_size = $9, content_hash = $10,
			error = $11, started_at = $12, completed_at = $13
		WHERE id = $14`

	var artifactName, contentHash sql.NullString
	var artifactSize sql.NullInt64
	if job.Artifact != nil {
		artifactName = sql.NullString{String: job.Artifact.FileName, Valid: true}
		artifactSize = sql.NullInt64{Int64: job.Artifact.Size, Valid: true}
		contentHash = sql.NullString{String: job.Artifact.ContentHash, Valid: true}
	}

	result, err := s.conn().ExecContext(ctx, query,
		string(job.Status),
		job.Input.FileName,
		job.Input.Size,
		job.Input.PackageID,
		job.Input.Version,
		job.Input.HasKeystore,
		job.Input.SkipAlignment,
		artifactName,
		artifactSize,
		contentHash,
		job.Error,
		timeToNull(job.StartedAt),
		timeToNull(job.CompletedAt),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// NextQueued retrieves the oldest queued job, ties broken by insertion order.
func (s *JobStore) NextQueued(ctx context.Context) (*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC, seq ASC
		LIMIT 1`
	// Lock the claimed row so concurrent claimers cannot pick the same job.
	if s.tx != nil {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	job, err := scanJob(s.conn().QueryRowContext(ctx, query, string(models.JobStatusQueued)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNoJobs
		}
		return nil, fmt.Errorf("querying next queued job: %w", err)
	}
	return job, nil
}

// ListRunning retrieves all jobs with status 'running'.
func (s *JobStore) ListRunning(ctx context.Context) ([]*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs
		WHERE status = $1
		ORDER BY created_at ASC, seq ASC`
	return s.queryJobs(ctx, query, string(models.JobStatusRunning))
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]*models.BuildJob, error) {
	rows, err := s.conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BuildJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating job rows: %w", err)
	}
	return jobs, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.BuildJob, error) {
	job := &models.BuildJob{}
	var status string
	var artifactName, contentHash sql.NullString
	var artifactSize sql.NullInt64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&status,
		&job.Input.FileName,
		&job.Input.Size,
		&job.Input.PackageID,
		&job.Input.Version,
		&job.Input.HasKeystore,
		&job.Input.SkipAlignment,
		&artifactName,
		&artifactSize,
		&contentHash,
		&job.Error,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.CreatedAt = job.CreatedAt.UTC()
	if startedAt.Valid {
		t := startedAt.Time.UTC()
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		job.CompletedAt = &t
	}

	if artifactName.Valid {
		job.Artifact = &models.Artifact{
			FileName:    artifactName.String,
			Size:        artifactSize.Int64,
			ContentHash: contentHash.String,
		}
	}
	return job, nil
}

func timeToNull(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
