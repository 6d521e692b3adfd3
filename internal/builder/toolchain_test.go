package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocateCompiledAPK(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app-release-unsigned.apk"), []byte("apk"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "output-metadata.json"), []byte("{}"), 0o644))

	got, err := locateCompiledAPK(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "app-release-unsigned.apk"), got)
}

func TestLocateCompiledAPKZeroCandidates(t *testing.T) {
	_, err := locateCompiledAPK(t.TempDir())
	assert.ErrorIs(t, err, ErrNoCompiledAPK)
}

func TestLocateCompiledAPKAmbiguous(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.apk"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.apk"), []byte("b"), 0o644))

	_, err := locateCompiledAPK(dir)
	assert.ErrorIs(t, err, ErrNoCompiledAPK)
}

func TestCompileRequiresSDK(t *testing.T) {
	t.Setenv("ANDROID_HOME", "")

	tc := NewToolchain(&Config{}, nil)
	_, err := tc.Compile(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrMissingSDK)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", tail("a\nb", 5))
}
