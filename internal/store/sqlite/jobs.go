package sqlite

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

// JobStore implements store.JobStore using SQLite.
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn().ExecContext(ctx, query,
		job.ID,
		string(job.Status),
		job.Input.FileName,
		job.Input.Size,
		job.Input.PackageID,
		job.Input.Version,
		boolToInt(job.Input.HasKeystore),
		boolToInt(job.Input.SkipAlignment),
		job.Error,
		job.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created build job", "job_id", job.ID)
	return nil
}

// Get retrieves a build job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (*models.BuildJob, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`

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
		SET status = ?, file_name = ?, size = ?, package_id = ?, version = ?,
			has_keystore = ?, skip_alignment = ?, artifact_name = ?,
			artifact_size = ?, content_hash = ?, error = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`

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
		boolToInt(job.Input.HasKeystore),
		boolToInt(job.Input.SkipAlignment),
		artifactName,
		artifactSize,
		contentHash,
		job.Error,
		timeToNullInt(job.StartedAt),
		timeToNullInt(job.CompletedAt),
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
		WHERE status = ?
		ORDER BY created_at ASC, seq ASC
		LIMIT 1`

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
		WHERE status = ?
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
	var hasKeystore, skipAlignment int
	var artifactName, contentHash sql.NullString
	var artifactSize sql.NullInt64
	var createdAt int64
	var startedAt, completedAt sql.NullInt64

	err := row.Scan(
		&job.ID,
		&status,
		&job.Input.FileName,
		&job.Input.Size,
		&job.Input.PackageID,
		&job.Input.Version,
		&hasKeystore,
		&skipAlignment,
		&artifactName,
		&artifactSize,
		&contentHash,
		&job.Error,
		&createdAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.JobStatus(status)
	job.Input.HasKeystore = hasKeystore != 0
	job.Input.SkipAlignment = skipAlignment != 0
	job.CreatedAt = time.Unix(0, createdAt).UTC()
	job.StartedAt = nullIntToTime(startedAt)
	job.CompletedAt = nullIntToTime(completedAt)

	if artifactName.Valid {
		job.Artifact = &models.Artifact{
			FileName:    artifactName.String,
			Size:        artifactSize.Int64,
			ContentHash: contentHash.String,
		}
	}
	return job, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeToNullInt(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullIntToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
