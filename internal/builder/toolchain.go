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
	"strings"
)

// compileOutputDir is where Gradle's release build drops the APK, relative
// to the project root.
const compileOutputDir = "app/build/outputs/apk/release"

// Toolchain invokes the external Gradle build against an instantiated
// project.
type Toolchain struct {
	cfg    *Config
	logger *slog.Logger
}

// NewToolchain creates a Toolchain with the given configuration.
func NewToolchain(cfg *Config, logger *slog.Logger) *Toolchain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Toolchain{cfg: cfg, logger: logger}
}

// Compile runs the release build for the project at projectDir and returns
// the path of the produced unsigned APK. Fails with ErrMissingSDK when no
// Android SDK location is configured, and with ErrNoCompiledAPK when the
// output directory does not contain exactly one APK.
func (t *Toolchain) Compile(ctx context.Context, projectDir string) (string, error) {
	sdkRoot := t.cfg.AndroidSDKRoot
	if sdkRoot == "" {
		sdkRoot = os.Getenv("ANDROID_HOME")
	}
	if sdkRoot == "" {
		return "", ErrMissingSDK
	}

	gradle := t.cfg.resolveGradle(projectDir)

	t.logger.Info("compiling project",
		"project_dir", projectDir,
		"gradle", gradle,
	)

	cmd := exec.CommandContext(ctx, gradle, "assembleRelease", "--no-daemon")
	cmd.Dir = projectDir
	cmd.Env = append(os.Environ(),
		"ANDROID_SDK_ROOT="+sdkRoot,
		"ANDROID_HOME="+sdkRoot,
	)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("gradle build failed (exit %d): %s",
				exitErr.ExitCode(), tail(output.String(), 20))
		}
		return "", fmt.Errorf("running gradle: %w", err)
	}

	apk, err := locateCompiledAPK(filepath.Join(projectDir, compileOutputDir))
	if err != nil {
		return "", err
	}

	t.logger.Info("compilation produced APK", "apk", apk)
	return apk, nil
}

// locateCompiledAPK finds the single APK in the toolchain's output
// directory. Zero or multiple candidates are both failures; there is no
// unambiguous artifact to sign.
func locateCompiledAPK(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrNoCompiledAPK, dir, err)
	}

	var apks []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".apk") {
			apks = append(apks, filepath.Join(dir, e.Name()))
		}
	}
	if len(apks) != 1 {
		return "", fmt.Errorf("%w: found %d candidates in %s", ErrNoCompiledAPK, len(apks), dir)
	}
	return apks[0], nil
}

// tail returns the last n lines of s, for compact error messages out of
// long tool output.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
