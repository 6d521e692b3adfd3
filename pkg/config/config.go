// Package config provides environment-based configuration for the build
// gateway.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the build gateway.
type Config struct {
	// Database configuration. When DatabaseDSN is empty the gateway runs
	// on the embedded SQLite store under DataDir.
	DatabaseDSN string
	SQLitePath  string

	// Server configuration
	HTTPHost string
	HTTPPort int

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// On-disk layout
	DataDir      string
	ArtifactsDir string
	StagingDir   string

	// Build pipeline configuration
	WorkDir        string
	TemplateDir    string
	SignerJAR      string
	AndroidSDKRoot string
	GradleBin      string
	JavaBin        string
	BuildTimeout   time.Duration
}

// Load reads configuration from environment variables.
func Load() *Config {
	dataDir := getEnv("DATA_DIR", "./data")

	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", ""),
		SQLitePath:      getEnv("SQLITE_PATH", filepath.Join(dataDir, "gateway.db")),
		HTTPHost:        getEnv("HTTP_HOST", "0.0.0.0"),
		HTTPPort:        getIntEnv("HTTP_PORT", 8080),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DataDir:         dataDir,
		ArtifactsDir:    getEnv("ARTIFACTS_DIR", filepath.Join(dataDir, "artifacts")),
		StagingDir:      getEnv("STAGING_DIR", filepath.Join(dataDir, "staging")),
		WorkDir:         getEnv("WORK_DIR", "/tmp/gateway-builds"),
		TemplateDir:     getEnv("TEMPLATE_DIR", "template"),
		SignerJAR:       getEnv("UBER_APK_SIGNER_JAR", ""),
		AndroidSDKRoot:  getEnv("ANDROID_SDK_ROOT", ""),
		GradleBin:       getEnv("GRADLE_BIN", ""),
		JavaBin:         getEnv("JAVA_BIN", "java"),
		BuildTimeout:    getDurationEnv("BUILD_TIMEOUT", 15*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
