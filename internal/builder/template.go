package builder

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Placeholder tokens substituted into the project template.
const (
	TokenAppID       = "__APP_ID__"
	TokenAppName     = "__APP_NAME__"
	TokenVersionName = "__VERSION_NAME__"
	TokenVersionCode = "__VERSION_CODE__"
)

// templateFiles are the template files that carry placeholder tokens.
var templateFiles = []string{
	"app/src/main/AndroidManifest.xml",
	"app/build.gradle",
	"app/src/main/res/values/strings.xml",
	"app/src/main/java/MainActivity.java",
}

// assetDir is where bundle-provided web content lands inside the
// instantiated project.
const assetDir = "app/src/main/assets/www"

// InstantiateTemplate copies the project template into projectDir and
// substitutes the descriptor's values into the token-bearing files.
// Unmatched tokens are left as-is.
func InstantiateTemplate(templateDir, projectDir string, desc *ProjectDescriptor) error {
	if err := copyTree(templateDir, projectDir); err != nil {
		return fmt.Errorf("copying template: %w", err)
	}

	replacer := strings.NewReplacer(
		TokenAppID, desc.PackageID,
		TokenAppName, desc.Name,
		TokenVersionName, desc.VersionName,
		TokenVersionCode, strconv.Itoa(desc.VersionCode),
	)

	for _, rel := range templateFiles {
		path := filepath.Join(projectDir, rel)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading template file %s: %w", rel, err)
		}
		if err := os.WriteFile(path, []byte(replacer.Replace(string(data))), 0o644); err != nil {
			return fmt.Errorf("writing template file %s: %w", rel, err)
		}
	}
	return nil
}

// CopyBundleContent copies the unpacked bundle's files into the instantiated
// project's asset tree. When the descriptor names a web_root, only that
// subtree is copied; otherwise the whole bundle lands in the asset tree,
// minus the descriptor file itself. A missing web_root directory is not an
// error; the app simply ships without embedded content.
func CopyBundleContent(bundleDir, projectDir string, desc *ProjectDescriptor) error {
	src := bundleDir
	if desc.WebRoot != "" {
		src = filepath.Join(bundleDir, desc.WebRoot)
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			return nil
		}
	}

	dst := filepath.Join(projectDir, assetDir)
	if err := copyTree(src, dst, descriptorName); err != nil {
		return fmt.Errorf("copying bundle content: %w", err)
	}
	return nil
}

// UnresolvedTokens scans dir for remaining placeholder tokens. Used by tests
// to assert the shipped template is complete.
func UnresolvedTokens(dir string) ([]string, error) {
	tokens := []string{TokenAppID, TokenAppName, TokenVersionName, TokenVersionCode}

	var found []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		for _, tok := range tokens {
			if strings.Contains(string(data), tok) {
				rel, _ := filepath.Rel(dir, path)
				found = append(found, fmt.Sprintf("%s: %s", rel, tok))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// copyTree recursively copies src into dst, preserving file modes. Entries
// whose src-relative path matches a skip name are left out.
func copyTree(src, dst string, skip ...string) error {
	skipped := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipped[name] = struct{}{}
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if _, ok := skipped[rel]; ok {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
