package builder

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/gateway/internal/models"
)

func TestParseContentHash(t *testing.T) {
	digest := "a3f5c6d7e8091a2b3c4d5e6f708192a3b4c5d6e7f8091a2b3c4d5e6f708192a3"

	tests := []struct {
		name   string
		report string
		want   string
	}{
		{
			name:   "uber-apk-signer style",
			report: "\tSHA256: " + digest + "\n\tVerified: true",
			want:   digest,
		},
		{
			name:   "dashed label",
			report: "Certificate SHA-256 digest: " + digest,
			want:   digest,
		},
		{
			name:   "uppercase digest is normalized",
			report: "SHA256: A3F5C6D7E8091A2B3C4D5E6F708192A3B4C5D6E7F8091A2B3C4D5E6F708192A3",
			want:   digest,
		},
		{
			name:   "no hash present",
			report: "Verified: true, signature scheme v2",
			want:   models.HashUnknown,
		},
		{
			name:   "truncated digest is rejected",
			report: "SHA256: a3f5c6d7e809",
			want:   models.HashUnknown,
		},
		{
			name:   "empty report",
			report: "",
			want:   models.HashUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseContentHash(tt.report))
		})
	}
}

func TestResolveSignerJAR(t *testing.T) {
	dir := t.TempDir()
	jar := filepath.Join(dir, "uber-apk-signer.jar")
	require.NoError(t, os.WriteFile(jar, []byte("jar"), 0o644))

	cfg := &Config{SignerJAR: jar}
	got, err := cfg.resolveSignerJAR()
	require.NoError(t, err)
	assert.Equal(t, jar, got)
}

func TestResolveSignerJARMissing(t *testing.T) {
	cfg := &Config{SignerJAR: filepath.Join(t.TempDir(), "nope.jar")}
	_, err := cfg.resolveSignerJAR()
	assert.ErrorIs(t, err, ErrMissingSignerJAR)
}

func TestLocateSignedAPK(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-aligned-signed.apk"), []byte("apk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("log"), 0o644))

	got, err := locateSignedAPK(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app-aligned-signed.apk"), got)
}

func TestLocateSignedAPKEmpty(t *testing.T) {
	_, err := locateSignedAPK(t.TempDir())
	assert.ErrorIs(t, err, ErrNoSignerOutput)
}
