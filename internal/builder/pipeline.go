// Package builder turns staged app bundles into signed APK artifacts.
package builder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/appforge/gateway/internal/models"
)

// BuildRequest describes one pipeline invocation.
type BuildRequest struct {
	JobID         string
	BundlePath    string
	BundleName    string // original submission filename
	Keystore      *KeystoreParams
	SkipAlignment bool
}

// BuildResult is the outcome of a successful pipeline run. Bytes carries
// the signed artifact because the working directory is gone by the time the
// caller sees the result.
type BuildResult struct {
	ArtifactName string
	ContentHash  string
	Bytes        []byte
}

// Pipeline executes the unpack, compile, sign, verify sequence for one job.
type Pipeline struct {
	cfg       *Config
	toolchain *Toolchain
	signer    *Signer
	logger    *slog.Logger
}

// NewPipeline creates a build pipeline with the given configuration.
func NewPipeline(cfg *Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	return &Pipeline{
		cfg:       cfg,
		toolchain: NewToolchain(cfg, logger),
		signer:    NewSigner(cfg, logger),
		logger:    logger,
	}, nil
}

// Build runs the full pipeline for one staged bundle. The per-job working
// directory is removed on every exit path.
func (p *Pipeline) Build(ctx context.Context, req *BuildRequest) (*BuildResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.BuildTimeout)
	defer cancel()

	workDir, err := os.MkdirTemp(p.cfg.WorkDir, req.JobID+"-")
	if err != nil {
		return nil, fmt.Errorf("creating job work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	p.logger.Info("starting build",
		"job_id", req.JobID,
		"bundle", req.BundleName,
		"work_dir", workDir,
	)

	inspection, err := Inspect(req.BundlePath)
	if err != nil {
		return nil, err
	}

	// Source bundles are compiled; anything else is signed as submitted.
	apkPath := req.BundlePath
	if inspection.SourceBundle {
		apkPath, err = p.compileSource(ctx, req, inspection.Descriptor, workDir)
		if err != nil {
			return nil, err
		}
	}

	signedPath, err := p.signer.Sign(ctx, apkPath, filepath.Join(workDir, "signed"), req.Keystore, req.SkipAlignment)
	if err != nil {
		return nil, err
	}

	hash := p.signer.Verify(ctx, signedPath)
	if hash == models.HashUnknown {
		p.logger.Warn("content hash extraction failed", "job_id", req.JobID)
	}

	data, err := os.ReadFile(signedPath)
	if err != nil {
		return nil, fmt.Errorf("reading signed artifact: %w", err)
	}

	p.logger.Info("build completed",
		"job_id", req.JobID,
		"artifact", filepath.Base(signedPath),
		"size", len(data),
		"duration", time.Since(start),
	)

	return &BuildResult{
		ArtifactName: filepath.Base(signedPath),
		ContentHash:  hash,
		Bytes:        data,
	}, nil
}

// compileSource instantiates the project template for a source bundle and
// compiles it, returning the unsigned APK path.
func (p *Pipeline) compileSource(ctx context.Context, req *BuildRequest, desc *ProjectDescriptor, workDir string) (string, error) {
	bundleDir := filepath.Join(workDir, "bundle")
	if err := Unpack(req.BundlePath, bundleDir); err != nil {
		return "", err
	}

	projectDir := filepath.Join(workDir, "project")
	if err := InstantiateTemplate(p.cfg.TemplateDir, projectDir, desc); err != nil {
		return "", err
	}
	if err := CopyBundleContent(bundleDir, projectDir, desc); err != nil {
		return "", err
	}

	return p.toolchain.Compile(ctx, projectDir)
}
