package builder

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// descriptorName is the marker file that distinguishes a source bundle from
// a prebuilt APK container.
const descriptorName = "app.yaml"

// ProjectDescriptor is the source bundle's project metadata, read from the
// app.yaml marker at the zip root.
type ProjectDescriptor struct {
	PackageID   string `yaml:"package_id"`
	Name        string `yaml:"name"`
	VersionName string `yaml:"version_name"`
	VersionCode int    `yaml:"version_code"`
	// WebRoot names the directory inside the bundle whose contents are
	// copied into the app's asset tree. When empty the whole bundle is
	// copied, minus the descriptor itself.
	WebRoot string `yaml:"web_root,omitempty"`
}

// Inspection is the result of examining a submitted bundle.
type Inspection struct {
	// SourceBundle is true when the bundle carries an app.yaml marker and
	// must be compiled; false means the bundle is signed as-is.
	SourceBundle bool
	Descriptor   *ProjectDescriptor // nil unless SourceBundle
}

// Inspect opens the bundle and determines how it should be processed.
// Returns ErrInvalidBundle when the file is not a readable zip.
func Inspect(bundlePath string) (*Inspection, error) {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if f.Name != descriptorName {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", descriptorName, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", descriptorName, err)
		}

		var desc ProjectDescriptor
		if err := yaml.Unmarshal(data, &desc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", descriptorName, err)
		}
		return &Inspection{SourceBundle: true, Descriptor: &desc}, nil
	}

	return &Inspection{}, nil
}

// Unpack extracts the bundle into destDir, rejecting entries that would
// escape it.
func Unpack(bundlePath, destDir string) error {
	r, err := zip.OpenReader(bundlePath)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	defer r.Close()

	for _, f := range r.File {
		if err := extractEntry(f, destDir); err != nil {
			return fmt.Errorf("extracting %s: %w", f.Name, err)
		}
	}
	return nil
}

func extractEntry(f *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.Clean(f.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("entry path escapes destination")
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}
