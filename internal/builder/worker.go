package builder

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/appforge/gateway/internal/artifact"
	"github.com/appforge/gateway/internal/metrics"
	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/staging"
	"github.com/appforge/gateway/internal/store"
)

// Runner abstracts the build pipeline so the worker can be tested without
// external tools.
type Runner interface {
	Build(ctx context.Context, req *BuildRequest) (*BuildResult, error)
}

// Worker drains queued jobs one at a time in a single goroutine. Notify
// wakes it after a submission; notifications received while a pass is
// running coalesce into at most one further pass.
type Worker struct {
	store     store.Store
	runner    Runner
	artifacts *artifact.Store
	staging   *staging.Area
	recorder  *metrics.Recorder
	logger    *slog.Logger

	wake chan struct{}
	wg   sync.WaitGroup
}

// NewWorker creates a queue worker.
func NewWorker(st store.Store, runner Runner, artifacts *artifact.Store, stagingArea *staging.Area, recorder *metrics.Recorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:     st,
		runner:    runner,
		artifacts: artifacts,
		staging:   stagingArea,
		recorder:  recorder,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// Start recovers interrupted jobs, then runs the worker loop until ctx is
// cancelled. The initial pass picks up jobs queued before a restart.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.recoverInterrupted(ctx); err != nil {
		return err
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.drain(ctx)
		for {
			select {
			case <-ctx.Done():
				w.logger.Info("queue worker stopping")
				return
			case <-w.wake:
				w.drain(ctx)
			}
		}
	}()

	w.logger.Info("queue worker started")
	return nil
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Notify wakes the worker. Non-blocking; redundant notifications while a
// wake is already pending are dropped.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// recoverInterrupted marks jobs left 'running' by a previous process as
// failed. A single in-process worker cannot resume a half-done build.
func (w *Worker) recoverInterrupted(ctx context.Context) error {
	running, err := w.store.Jobs().ListRunning(ctx)
	if err != nil {
		return err
	}

	for _, job := range running {
		now := time.Now().UTC()
		job.Status = models.JobStatusFailed
		job.Error = "build interrupted by restart"
		job.CompletedAt = &now

		if err := w.store.Jobs().Update(ctx, job); err != nil {
			w.logger.Error("failed to mark interrupted job", "job_id", job.ID, "error", err)
			continue
		}
		if err := w.staging.Remove(job.ID); err != nil {
			w.logger.Error("failed to remove staging dir", "job_id", job.ID, "error", err)
		}
		w.logger.Warn("marked interrupted job failed", "job_id", job.ID)
	}

	if len(running) > 0 {
		w.logger.Info("startup recovery complete", "recovered", len(running))
	}
	return nil
}

// drain processes queued jobs oldest-first until none remain. One job's
// failure never aborts the pass.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := w.claim(ctx)
		if err != nil {
			if errors.Is(err, store.ErrNoJobs) {
				return
			}
			w.logger.Error("failed to claim job", "error", err)
			return
		}

		w.process(ctx, job)
	}
}

// claim atomically selects the oldest queued job and marks it running.
func (w *Worker) claim(ctx context.Context) (*models.BuildJob, error) {
	var claimed *models.BuildJob

	err := w.store.WithTx(ctx, func(tx store.Store) error {
		job, err := tx.Jobs().NextQueued(ctx)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = models.JobStatusRunning
		job.StartedAt = &now
		if err := tx.Jobs().Update(ctx, job); err != nil {
			return err
		}

		claimed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// process runs the pipeline for a claimed job and records the terminal
// transition. The job's staging directory is removed regardless of outcome.
func (w *Worker) process(ctx context.Context, job *models.BuildJob) {
	start := time.Now()

	w.logger.Info("processing job", "job_id", job.ID, "bundle", job.Input.FileName)

	result, buildErr := w.runJob(ctx, job)

	now := time.Now().UTC()
	job.CompletedAt = &now

	if buildErr != nil {
		job.Status = models.JobStatusFailed
		job.Error = buildErr.Error()
		w.logger.Error("job failed", "job_id", job.ID, "error", buildErr)
	} else {
		job.Status = models.JobStatusCompleted
		job.Artifact = &models.Artifact{
			FileName:    result.ArtifactName,
			Size:        int64(len(result.Bytes)),
			ContentHash: result.ContentHash,
		}
		w.logger.Info("job completed",
			"job_id", job.ID,
			"artifact", result.ArtifactName,
			"content_hash", result.ContentHash,
		)
	}

	if err := w.store.Jobs().Update(ctx, job); err != nil {
		w.logger.Error("failed to record job outcome", "job_id", job.ID, "error", err)
	}

	if err := w.staging.Remove(job.ID); err != nil {
		w.logger.Error("failed to remove staging dir", "job_id", job.ID, "error", err)
	}

	w.recorder.RecordBuild(string(job.Status), time.Since(start))
}

// runJob loads staged material, runs the pipeline, and saves the artifact.
func (w *Worker) runJob(ctx context.Context, job *models.BuildJob) (*BuildResult, error) {
	staged, err := w.staging.Load(job.ID)
	if err != nil {
		return nil, err
	}

	req := &BuildRequest{
		JobID:         job.ID,
		BundlePath:    staged.BundlePath,
		BundleName:    job.Input.FileName,
		SkipAlignment: job.Input.SkipAlignment,
	}
	if staged.KeystorePath != "" && staged.Signing != nil {
		req.Keystore = &KeystoreParams{
			Path:          staged.KeystorePath,
			Alias:         staged.Signing.Alias,
			StorePassword: staged.Signing.StorePassword,
			KeyPassword:   staged.Signing.KeyPassword,
		}
	}

	result, err := w.runner.Build(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := w.artifacts.Save(job.ID, result.ArtifactName, result.Bytes); err != nil {
		return nil, err
	}
	return result, nil
}
