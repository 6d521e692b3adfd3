package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/appforge/gateway/internal/models"
)

// hashPattern matches a SHA-256 digest in the signer's verification report.
// The report format varies between versions, so this is deliberately loose.
var hashPattern = regexp.MustCompile(`(?i)sha-?256[^\n]*?([0-9a-f]{64})`)

// KeystoreParams carries caller-supplied signing credentials. When Path is
// empty the signer falls back to its embedded debug keystore.
type KeystoreParams struct {
	Path          string
	Alias         string
	StorePassword string
	KeyPassword   string // falls back to StorePassword when empty
}

// Signer wraps the uber-apk-signer JAR.
type Signer struct {
	cfg    *Config
	logger *slog.Logger
}

// NewSigner creates a Signer with the given configuration.
func NewSigner(cfg *Config, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{cfg: cfg, logger: logger}
}

// Sign signs apkPath into outDir and returns the signed APK's path.
// Fails with ErrNoSignerOutput when the tool exits zero but writes nothing.
func (s *Signer) Sign(ctx context.Context, apkPath, outDir string, keystore *KeystoreParams, skipAlignment bool) (string, error) {
	jar, err := s.cfg.resolveSignerJAR()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("creating signer output dir: %w", err)
	}

	args := []string{"-jar", jar, "--apks", apkPath, "--out", outDir, "--allowResign"}
	if skipAlignment {
		args = append(args, "--skipZipAlign")
	}
	if keystore != nil && keystore.Path != "" {
		keyPass := keystore.KeyPassword
		if keyPass == "" {
			keyPass = keystore.StorePassword
		}
		args = append(args,
			"--ks", keystore.Path,
			"--ksAlias", keystore.Alias,
			"--ksPass", keystore.StorePassword,
			"--ksKeyPass", keyPass,
		)
	}

	s.logger.Info("signing APK",
		"apk", apkPath,
		"out_dir", outDir,
		"custom_keystore", keystore != nil && keystore.Path != "",
		"skip_alignment", skipAlignment,
	)

	if _, err := s.run(ctx, args); err != nil {
		return "", fmt.Errorf("signing APK: %w", err)
	}

	signed, err := locateSignedAPK(outDir)
	if err != nil {
		return "", err
	}
	return signed, nil
}

// Verify runs the signer's verification mode against a signed APK and
// extracts the content hash from its report. Extraction failures degrade to
// HashUnknown; verification problems never fail a build that signed cleanly.
func (s *Signer) Verify(ctx context.Context, apkPath string) string {
	jar, err := s.cfg.resolveSignerJAR()
	if err != nil {
		return models.HashUnknown
	}

	output, err := s.run(ctx, []string{"-jar", jar, "--apks", apkPath, "--onlyVerify"})
	if err != nil {
		s.logger.Warn("signature verification failed", "apk", apkPath, "error", err)
		return models.HashUnknown
	}

	return parseContentHash(output)
}

func (s *Signer) run(ctx context.Context, args []string) (string, error) {
	java := s.cfg.JavaBin
	if java == "" {
		java = "java"
	}

	cmd := exec.CommandContext(ctx, java, args...)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output.String(), fmt.Errorf("signer exited %d: %s",
				exitErr.ExitCode(), tail(output.String(), 10))
		}
		return output.String(), fmt.Errorf("running signer: %w", err)
	}
	return output.String(), nil
}

// locateSignedAPK finds a signed APK in the signer's output directory.
// Unlike compilation output, multiple files are fine; the first APK wins.
func locateSignedAPK(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrNoSignerOutput, dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".apk") {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%w: no .apk in %s", ErrNoSignerOutput, dir)
}

// parseContentHash extracts a SHA-256 digest from the verification report,
// returning HashUnknown when none is found.
func parseContentHash(report string) string {
	m := hashPattern.FindStringSubmatch(report)
	if m == nil {
		return models.HashUnknown
	}
	return strings.ToLower(m[1])
}
