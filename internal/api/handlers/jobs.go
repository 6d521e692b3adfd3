package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/appforge/gateway/internal/artifact"
	"github.com/appforge/gateway/internal/builder"
	"github.com/appforge/gateway/internal/metrics"
	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/quota"
	"github.com/appforge/gateway/internal/staging"
	"github.com/appforge/gateway/internal/store"
)

// maxSubmissionMemory bounds how much of a multipart submission is held in
// memory before spilling to disk.
const maxSubmissionMemory = 32 << 20

// Notifier wakes the queue worker after a submission.
type Notifier interface {
	Notify()
}

// JobHandler handles build job submission and retrieval.
type JobHandler struct {
	store     store.Store
	ledger    *quota.Ledger
	staging   *staging.Area
	artifacts *artifact.Store
	notifier  Notifier
	recorder  *metrics.Recorder
	logger    *slog.Logger
}

// NewJobHandler creates a new job handler.
func NewJobHandler(st store.Store, ledger *quota.Ledger, stagingArea *staging.Area, artifacts *artifact.Store, notifier Notifier, recorder *metrics.Recorder, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{
		store:     st,
		ledger:    ledger,
		staging:   stagingArea,
		artifacts: artifacts,
		notifier:  notifier,
		recorder:  recorder,
		logger:    logger,
	}
}

// submitResponse is the body returned for accepted submissions.
type submitResponse struct {
	Job   *models.BuildJob     `json:"job"`
	Quota models.QuotaSnapshot `json:"quota"`
}

// quotaRejection is the body returned when the quota ledger rejects a
// submission.
type quotaRejection struct {
	Code    string               `json:"code"`
	Message string               `json:"message"`
	Quota   models.QuotaSnapshot `json:"quota"`
}

// Submit handles POST /v1/jobs. It validates the multipart submission,
// stages the bundle, consumes quota and creates the queued job in one
// transaction, and wakes the worker.
func (h *JobHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxSubmissionMemory); err != nil {
		WriteBadRequest(w, "invalid multipart form: "+err.Error())
		return
	}

	bundle, bundleName, err := readFormFile(r, "bundle")
	if err != nil || len(bundle) == 0 {
		WriteBadRequest(w, "bundle file is required")
		return
	}

	keystore, _, err := readFormFile(r, "keystore")
	if err != nil {
		WriteBadRequest(w, "reading keystore file: "+err.Error())
		return
	}

	var signing *staging.SigningParams
	if keystore != nil {
		signing = &staging.SigningParams{
			Alias:         r.FormValue("keystore_alias"),
			StorePassword: r.FormValue("keystore_pass"),
			KeyPassword:   r.FormValue("key_pass"),
		}
		if signing.Alias == "" || signing.StorePassword == "" {
			WriteBadRequest(w, "keystore_alias and keystore_pass are required with a keystore")
			return
		}
	}

	skipAlignment, _ := strconv.ParseBool(r.FormValue("skip_alignment"))

	jobID := uuid.New().String()

	staged, err := h.staging.Stage(jobID, bundle, keystore, signing)
	if err != nil {
		h.logger.Error("failed to stage submission", "job_id", jobID, "error", err)
		WriteInternalError(w, "failed to persist submission")
		return
	}

	job := &models.BuildJob{
		ID:     jobID,
		Status: models.JobStatusQueued,
		Input: models.BundleInput{
			FileName:      bundleName,
			Size:          int64(len(bundle)),
			HasKeystore:   keystore != nil,
			SkipAlignment: skipAlignment,
		},
		CreatedAt: time.Now().UTC(),
	}

	// Metadata extraction is best-effort; an unreadable bundle still gets
	// a job and fails in the pipeline with a recorded error.
	if inspection, err := builder.Inspect(staged.BundlePath); err == nil && inspection.SourceBundle {
		job.Input.PackageID = inspection.Descriptor.PackageID
		job.Input.Version = inspection.Descriptor.VersionName
	}

	// Quota consumption and job creation commit together: a failed insert
	// rolls the consumed unit back instead of burning it.
	identity := callerIdentity(r)
	var decision *quota.Decision
	err = h.store.WithTx(r.Context(), func(tx store.Store) error {
		d, err := h.ledger.ConsumeIn(r.Context(), tx, identity)
		if err != nil {
			return err
		}
		decision = d
		if !d.Allowed {
			return quota.ErrRejected
		}
		return tx.Jobs().Create(r.Context(), job)
	})
	if err != nil {
		if rmErr := h.staging.Remove(jobID); rmErr != nil {
			h.logger.Error("failed to clean staging dir", "job_id", jobID, "error", rmErr)
		}
		if errors.Is(err, quota.ErrRejected) {
			h.recorder.RecordQuotaRejection(decision.Reason)
			WriteJSON(w, http.StatusTooManyRequests, &quotaRejection{
				Code:    decision.Reason,
				Message: rejectionMessage(decision.Reason),
				Quota:   decision.Snapshot,
			})
			return
		}
		h.logger.Error("failed to accept submission", "job_id", jobID, "error", err)
		WriteInternalError(w, "failed to create job")
		return
	}

	h.recorder.RecordSubmission()
	h.notifier.Notify()

	h.logger.Info("accepted submission",
		"job_id", jobID,
		"bundle", bundleName,
		"size", len(bundle),
		"plan", identity.Plan,
	)

	WriteJSON(w, http.StatusAccepted, &submitResponse{
		Job:   job,
		Quota: decision.Snapshot,
	})
}

// List handles GET /v1/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.store.Jobs().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		WriteInternalError(w, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*models.BuildJob{}
	}
	WriteJSON(w, http.StatusOK, jobs)
}

// Get handles GET /v1/jobs/{jobID}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.Jobs().Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "job not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		WriteInternalError(w, "failed to get job")
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// Artifact handles GET /v1/jobs/{jobID}/artifact, streaming the signed APK.
func (h *JobHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.Jobs().Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteNotFound(w, "job not found")
			return
		}
		h.logger.Error("failed to get job", "job_id", jobID, "error", err)
		WriteInternalError(w, "failed to get job")
		return
	}

	if job.Artifact == nil {
		WriteConflict(w, "job has no artifact (status: "+string(job.Status)+")")
		return
	}

	f, err := os.Open(h.artifacts.PathFor(job))
	if err != nil {
		h.logger.Error("artifact file missing", "job_id", jobID, "error", err)
		WriteNotFound(w, "artifact not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	w.Header().Set("Content-Disposition", `attachment; filename="`+job.Artifact.FileName+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(job.Artifact.Size, 10))
	w.Header().Set("X-Content-Hash", job.Artifact.ContentHash)

	if _, err := io.Copy(w, f); err != nil {
		h.logger.Error("failed to stream artifact", "job_id", jobID, "error", err)
	}
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		return nil, "", err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, "", err
	}
	return data, header.Filename, nil
}

func rejectionMessage(reason string) string {
	switch reason {
	case models.QuotaReasonIPRateLimit:
		return "too many submissions from this address; try again next hour"
	case models.QuotaReasonWeeklyLimit:
		return "weekly build limit reached for your plan"
	default:
		return "submission rejected"
	}
}
