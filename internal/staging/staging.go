// Package staging holds submitted bundles on disk between acceptance and
// processing, so queued work survives a restart.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	bundleFile   = "bundle.zip"
	keystoreFile = "keystore.jks"
	signingFile  = "signing.yaml"
)

// SigningParams are the caller-supplied keystore credentials, persisted as a
// sidecar next to the staged bundle. KeyPassword falls back to StorePassword
// when empty.
type SigningParams struct {
	Alias         string `yaml:"alias"`
	StorePassword string `yaml:"store_password"`
	KeyPassword   string `yaml:"key_password,omitempty"`
}

// Staged describes the on-disk layout of one staged submission.
type Staged struct {
	Dir          string
	BundlePath   string
	KeystorePath string // empty when no keystore was submitted
	Signing      *SigningParams
}

// Area manages per-job staging directories under a root.
type Area struct {
	root   string
	logger *slog.Logger
}

// New creates a staging area rooted at dir, creating it if needed.
func New(dir string, logger *slog.Logger) (*Area, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging root: %w", err)
	}
	return &Area{root: dir, logger: logger}, nil
}

// Stage writes the bundle and optional keystore material for a job.
func (a *Area) Stage(jobID string, bundle []byte, keystore []byte, signing *SigningParams) (*Staged, error) {
	dir := filepath.Join(a.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}

	staged := &Staged{Dir: dir, BundlePath: filepath.Join(dir, bundleFile)}

	if err := os.WriteFile(staged.BundlePath, bundle, 0o644); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("writing staged bundle: %w", err)
	}

	if keystore != nil {
		staged.KeystorePath = filepath.Join(dir, keystoreFile)
		if err := os.WriteFile(staged.KeystorePath, keystore, 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("writing staged keystore: %w", err)
		}

		data, err := yaml.Marshal(signing)
		if err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("encoding signing params: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, signingFile), data, 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, fmt.Errorf("writing signing params: %w", err)
		}
		staged.Signing = signing
	}

	a.logger.Debug("staged submission", "job_id", jobID, "dir", dir)
	return staged, nil
}

// Load reads back the staged material for a job.
func (a *Area) Load(jobID string) (*Staged, error) {
	dir := filepath.Join(a.root, jobID)
	bundlePath := filepath.Join(dir, bundleFile)

	if _, err := os.Stat(bundlePath); err != nil {
		return nil, fmt.Errorf("staged bundle for job %s: %w", jobID, err)
	}

	staged := &Staged{Dir: dir, BundlePath: bundlePath}

	keystorePath := filepath.Join(dir, keystoreFile)
	if _, err := os.Stat(keystorePath); err == nil {
		staged.KeystorePath = keystorePath

		data, err := os.ReadFile(filepath.Join(dir, signingFile))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading signing params: %w", err)
		}
		if data != nil {
			var signing SigningParams
			if err := yaml.Unmarshal(data, &signing); err != nil {
				return nil, fmt.Errorf("decoding signing params: %w", err)
			}
			staged.Signing = &signing
		}
	}

	return staged, nil
}

// Remove deletes a job's staging directory. Safe to call twice.
func (a *Area) Remove(jobID string) error {
	if err := os.RemoveAll(filepath.Join(a.root, jobID)); err != nil {
		return fmt.Errorf("removing staging dir: %w", err)
	}
	return nil
}
