// Package artifact persists signed build outputs on disk, one directory per
// job.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/appforge/gateway/internal/models"
)

// Store holds signed artifacts under a root directory, keyed by job ID.
type Store struct {
	root   string
	logger *slog.Logger
}

// New creates an artifact store rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact root: %w", err)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Save writes an artifact for a job. The write goes through a temp file and
// rename so a crash never leaves a half-written artifact at the final path.
func (s *Store) Save(jobID, name string, data []byte) error {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact dir: %w", err)
	}

	final := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp artifact: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publishing artifact: %w", err)
	}

	s.logger.Debug("saved artifact", "job_id", jobID, "name", name, "size", len(data))
	return nil
}

// PathFor returns the on-disk path of a job's artifact, or empty when the
// job has none.
func (s *Store) PathFor(job *models.BuildJob) string {
	if job.Artifact == nil {
		return ""
	}
	return filepath.Join(s.root, job.ID, job.Artifact.FileName)
}
