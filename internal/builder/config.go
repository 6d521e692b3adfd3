package builder

import (
	"os"
	"path/filepath"
	"time"
)

// signerJARFallbacks are probed in order when no JAR path is configured.
var signerJARFallbacks = []string{
	"/opt/uber-apk-signer/uber-apk-signer.jar",
	"tools/uber-apk-signer.jar",
}

// Config holds configuration for the build pipeline.
type Config struct {
	// WorkDir is where per-job scratch directories are created.
	WorkDir string
	// TemplateDir is the Gradle project template instantiated for
	// source bundles.
	TemplateDir string
	// SignerJAR is the path to the uber-apk-signer JAR. When empty the
	// known fallback locations are probed.
	SignerJAR string
	// AndroidSDKRoot is exported to Gradle as ANDROID_SDK_ROOT. Required
	// for source bundles; prebuilt APK bundles sign without it.
	AndroidSDKRoot string
	// GradleBin overrides the Gradle executable. When empty, the
	// template's gradlew is used if present, else "gradle" from PATH.
	GradleBin string
	// JavaBin is the Java executable used to run the signer.
	JavaBin string
	// BuildTimeout bounds one job's external tool invocations end to end.
	BuildTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkDir:      "/tmp/gateway-builds",
		TemplateDir:  "template",
		JavaBin:      "java",
		BuildTimeout: 15 * time.Minute,
	}
}

// resolveSignerJAR returns the signer JAR path, probing fallbacks when none
// is configured.
func (c *Config) resolveSignerJAR() (string, error) {
	candidates := signerJARFallbacks
	if c.SignerJAR != "" {
		candidates = []string{c.SignerJAR}
	}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", ErrMissingSignerJAR
}

// resolveGradle returns the Gradle command to run for the template at dir.
func (c *Config) resolveGradle(dir string) string {
	if c.GradleBin != "" {
		return c.GradleBin
	}
	gradlew := filepath.Join(dir, "gradlew")
	if info, err := os.Stat(gradlew); err == nil && !info.IsDir() {
		return gradlew
	}
	return "gradle"
}
