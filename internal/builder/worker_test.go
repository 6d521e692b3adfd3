package builder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/gateway/internal/artifact"
	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/staging"
	"github.com/appforge/gateway/internal/store/sqlite"
)

// fakeRunner records build order and fails for job IDs listed in failFor.
type fakeRunner struct {
	built   []string
	failFor map[string]error
}

func (f *fakeRunner) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	f.built = append(f.built, req.JobID)
	if err := f.failFor[req.JobID]; err != nil {
		return nil, err
	}
	return &BuildResult{
		ArtifactName: req.JobID + "-signed.apk",
		ContentHash:  "cafe01",
		Bytes:        []byte("signed-" + req.JobID),
	}, nil
}

type workerFixture struct {
	store   *sqlite.SQLiteStore
	staging *staging.Area
	worker  *Worker
	runner  *fakeRunner
	artDir  string
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	st, err := sqlite.New(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	dir := t.TempDir()
	stagingArea, err := staging.New(filepath.Join(dir, "staging"), nil)
	require.NoError(t, err)

	artDir := filepath.Join(dir, "artifacts")
	artifacts, err := artifact.New(artDir, nil)
	require.NoError(t, err)

	runner := &fakeRunner{failFor: map[string]error{}}
	return &workerFixture{
		store:   st,
		staging: stagingArea,
		worker:  NewWorker(st, runner, artifacts, stagingArea, nil, nil),
		runner:  runner,
		artDir:  artDir,
	}
}

// queueJob stages a bundle and creates a queued record for it.
func (f *workerFixture) queueJob(t *testing.T, id string, createdAt time.Time) {
	t.Helper()

	_, err := f.staging.Stage(id, []byte("bundle-"+id), nil, nil)
	require.NoError(t, err)

	err = f.store.Jobs().Create(context.Background(), &models.BuildJob{
		ID:     id,
		Status: models.JobStatusQueued,
		Input:  models.BundleInput{FileName: id + ".zip", Size: 10},
		CreatedAt: createdAt,
	})
	require.NoError(t, err)
}

func (f *workerFixture) stagingDirExists(id string) bool {
	_, err := f.staging.Load(id)
	return err == nil
}

func TestWorkerDrainsFIFO(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.queueJob(t, "older", base)
	f.queueJob(t, "newer", base.Add(time.Minute))

	f.worker.drain(ctx)

	assert.Equal(t, []string{"older", "newer"}, f.runner.built)

	for _, id := range []string{"older", "newer"} {
		job, err := f.store.Jobs().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assert.True(t, job.Consistent())
		require.NotNil(t, job.StartedAt)
		require.NotNil(t, job.CompletedAt)
		require.NotNil(t, job.Artifact)
		assert.Equal(t, id+"-signed.apk", job.Artifact.FileName)
		assert.Equal(t, "cafe01", job.Artifact.ContentHash)

		data, err := os.ReadFile(filepath.Join(f.artDir, id, id+"-signed.apk"))
		require.NoError(t, err)
		assert.Equal(t, "signed-"+id, string(data))

		assert.False(t, f.stagingDirExists(id), "staging dir for %s should be removed", id)
	}
}

func TestWorkerIsolatesFailures(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.queueJob(t, "bad", base)
	f.queueJob(t, "good", base.Add(time.Second))
	f.runner.failFor["bad"] = errors.New("gradle build failed (exit 1)")

	f.worker.drain(ctx)

	bad, err := f.store.Jobs().Get(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, bad.Status)
	assert.Contains(t, bad.Error, "gradle build failed")
	assert.Nil(t, bad.Artifact)
	assert.True(t, bad.Consistent())
	assert.False(t, f.stagingDirExists("bad"))

	good, err := f.store.Jobs().Get(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, good.Status)
}

func TestWorkerDrainEmptyQueue(t *testing.T) {
	f := newWorkerFixture(t)
	f.worker.drain(context.Background())
	assert.Empty(t, f.runner.built)
}

func TestRecoverInterrupted(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	f.queueJob(t, "orphan", time.Now().UTC())
	orphan, err := f.store.Jobs().Get(ctx, "orphan")
	require.NoError(t, err)
	started := time.Now().UTC()
	orphan.Status = models.JobStatusRunning
	orphan.StartedAt = &started
	require.NoError(t, f.store.Jobs().Update(ctx, orphan))

	f.queueJob(t, "waiting", time.Now().UTC())

	require.NoError(t, f.worker.recoverInterrupted(ctx))

	recovered, err := f.store.Jobs().Get(ctx, "orphan")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, recovered.Status)
	assert.Equal(t, "build interrupted by restart", recovered.Error)
	require.NotNil(t, recovered.CompletedAt)
	assert.False(t, f.stagingDirExists("orphan"))

	// Queued jobs are untouched; the first drain picks them up.
	waiting, err := f.store.Jobs().Get(ctx, "waiting")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, waiting.Status)
}

func TestNotifyCoalesces(t *testing.T) {
	f := newWorkerFixture(t)

	f.worker.Notify()
	f.worker.Notify()
	f.worker.Notify()

	assert.Len(t, f.worker.wake, 1)
}

func TestWorkerProcessesAfterNotify(t *testing.T) {
	f := newWorkerFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, f.worker.Start(ctx))

	f.queueJob(t, "late", time.Now().UTC())
	f.worker.Notify()

	require.Eventually(t, func() bool {
		job, err := f.store.Jobs().Get(context.Background(), "late")
		return err == nil && job.Status == models.JobStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	f.worker.Wait()
}
