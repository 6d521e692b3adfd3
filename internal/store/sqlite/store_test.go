package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testJob(id string, createdAt time.Time) *models.BuildJob {
	return &models.BuildJob{
		ID:     id,
		Status: models.JobStatusQueued,
		Input: models.BundleInput{
			FileName: id + ".zip",
			Size:     1024,
		},
		CreatedAt: createdAt,
	}
}

func TestJobCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	job := testJob("job-1", created)
	job.Input.PackageID = "com.example.app"
	job.Input.Version = "1.2.0"
	job.Input.HasKeystore = true

	require.NoError(t, s.Jobs().Create(ctx, job))

	got, err := s.Jobs().Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, job.Input, got.Input)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.Artifact)
	assert.Nil(t, got.StartedAt)
	assert.Empty(t, got.Error)
}

func TestJobGetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Jobs().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobUpdateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job := testJob("job-1", time.Now().UTC())
	require.NoError(t, s.Jobs().Create(ctx, job))

	started := time.Date(2026, 3, 2, 10, 1, 0, 0, time.UTC)
	completed := started.Add(90 * time.Second)
	job.Status = models.JobStatusCompleted
	job.StartedAt = &started
	job.CompletedAt = &completed
	job.Artifact = &models.Artifact{
		FileName:    "app-release-aligned-signed.apk",
		Size:        2048,
		ContentHash: "abc123",
	}
	require.NoError(t, s.Jobs().Update(ctx, job))

	got, err := s.Jobs().Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	require.NotNil(t, got.Artifact)
	assert.Equal(t, *job.Artifact, *got.Artifact)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(started))
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CompletedAt.Equal(completed))
}

func TestJobUpdateMissing(t *testing.T) {
	s := newTestStore(t)

	err := s.Jobs().Update(context.Background(), testJob("ghost", time.Now()))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Jobs().Create(ctx, testJob(id, base.Add(time.Duration(i)*time.Minute))))
	}

	jobs, err := s.Jobs().List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID)
	assert.Equal(t, "b", jobs[1].ID)
	assert.Equal(t, "a", jobs[2].ID)
}

func TestNextQueuedFIFOWithTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Identical timestamps; insertion order breaks the tie.
	at := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.Jobs().Create(ctx, testJob(id, at)))
	}

	next, err := s.Jobs().NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", next.ID)

	next.Status = models.JobStatusRunning
	require.NoError(t, s.Jobs().Update(ctx, next))

	next, err = s.Jobs().NextQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", next.ID)
}

func TestNextQueuedEmpty(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Jobs().NextQueued(context.Background())
	assert.ErrorIs(t, err, store.ErrNoJobs)
}

func TestListRunning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	running := testJob("running-1", time.Now().UTC())
	require.NoError(t, s.Jobs().Create(ctx, running))
	running.Status = models.JobStatusRunning
	require.NoError(t, s.Jobs().Update(ctx, running))

	require.NoError(t, s.Jobs().Create(ctx, testJob("queued-1", time.Now().UTC())))

	jobs, err := s.Jobs().ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "running-1", jobs[0].ID)
}

func TestQuotaCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.Quotas().Count(ctx, models.ScopeUser, "u1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, s.Quotas().Touch(ctx, models.ScopeUser, "u1", "2026-03-02"))
	count, err = s.Quotas().Count(ctx, models.ScopeUser, "u1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Quotas().Increment(ctx, models.ScopeUser, "u1", "2026-03-02"))
	}
	count, err = s.Quotas().Count(ctx, models.ScopeUser, "u1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// Different identity, bucket, and scope each count independently.
	count, err = s.Quotas().Count(ctx, models.ScopeUser, "u2", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = s.Quotas().Count(ctx, models.ScopeUser, "u1", "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	count, err = s.Quotas().Count(ctx, models.ScopeDevice, "u1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestWithTxRollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentinel := errors.New("abort")
	err := s.WithTx(ctx, func(tx store.Store) error {
		if err := tx.Quotas().Increment(ctx, models.ScopeUser, "u1", "2026-03-02"); err != nil {
			return err
		}
		if err := tx.Jobs().Create(ctx, testJob("tx-job", time.Now().UTC())); err != nil {
			return err
		}
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	count, err := s.Quotas().Count(ctx, models.ScopeUser, "u1", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	_, err = s.Jobs().Get(ctx, "tx-job")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxCommit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Store) error {
		return tx.Jobs().Create(ctx, testJob("tx-job", time.Now().UTC()))
	})
	require.NoError(t, err)

	_, err = s.Jobs().Get(ctx, "tx-job")
	assert.NoError(t, err)
}
