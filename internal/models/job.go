// Package models defines the core domain types for the build gateway.
package models

import "time"

// JobStatus represents the current state of a build job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step. The only legal path is queued -> running -> completed|failed.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusRunning
	case JobStatusRunning:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// HashUnknown is the sentinel content hash recorded when hash extraction
// from the signer's verification report fails. Hashing is best-effort;
// signing is not.
const HashUnknown = "unknown"

// BundleInput describes the bundle as it was submitted.
type BundleInput struct {
	FileName      string `json:"file_name"`
	Size          int64  `json:"size"`
	PackageID     string `json:"package_id,omitempty"`
	Version       string `json:"version,omitempty"`
	HasKeystore   bool   `json:"has_keystore"`
	SkipAlignment bool   `json:"skip_alignment"`
}

// Artifact describes the signed output of a completed job.
type Artifact struct {
	FileName    string `json:"file_name"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
}

// BuildJob is the durable record of a submitted build.
//
// Exactly one of {Artifact set, Error set, neither set} holds at any time,
// consistent with Status: Artifact is present iff the job completed, Error
// is present iff it failed. Jobs are created by the submission path and
// mutated only by the queue worker; they are never deleted automatically.
type BuildJob struct {
	ID          string      `json:"id"`
	Status      JobStatus   `json:"status"`
	Input       BundleInput `json:"input"`
	Artifact    *Artifact   `json:"artifact,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Consistent reports whether the artifact/error fields agree with the status.
func (j *BuildJob) Consistent() bool {
	switch j.Status {
	case JobStatusCompleted:
		return j.Artifact != nil && j.Error == ""
	case JobStatusFailed:
		return j.Artifact == nil && j.Error != ""
	default:
		return j.Artifact == nil && j.Error == ""
	}
}
