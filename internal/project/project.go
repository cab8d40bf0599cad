// Package project validates the target project paths a run request points
// at before anything is executed against them.
package project

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/testwarden/testwarden/internal/errors"
)

// ResolveProjectPath resolves path to an absolute, existing directory inside
// root. Requests escaping the permitted root are rejected.
func ResolveProjectPath(root, path string) (string, error) {
	if path == "" {
		return "", errors.NewConfigurationError("project path must not be empty", "")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewConfigurationError("invalid project path: "+path, "")
	}
	abs = filepath.Clean(abs)

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewConfigurationError("invalid allowed root: "+root, "")
	}
	if !within(absRoot, abs) {
		return "", errors.NewConfigurationError("project path outside the permitted root: "+abs, "allowed root is "+absRoot)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.NewConfigurationError("project path not found: "+abs, "")
		}
		return "", errors.NewConfigurationError("project path not accessible: "+abs, "")
	}
	if !info.IsDir() {
		return "", errors.NewConfigurationError("project path is not a directory: "+abs, "")
	}

	return abs, nil
}

// ValidateTestPath checks that a non-empty test path stays inside the
// project root. An empty test path means the whole project. Only the plain
// file part is checked for existence: a pytest node id carries a
// "::Class::test" selector after the file, and a glob pattern is matched by
// the runner itself.
func ValidateTestPath(projectPath, testPath string) error {
	if testPath == "" {
		return nil
	}
	if filepath.IsAbs(testPath) {
		return errors.NewConfigurationError("test path must be relative to the project: "+testPath, "")
	}
	pathPart := testPath
	if i := strings.Index(pathPart, "::"); i >= 0 {
		pathPart = pathPart[:i]
	}
	full := filepath.Join(projectPath, pathPart)
	if !within(projectPath, full) {
		return errors.NewConfigurationError("test path escapes the project: "+testPath, "")
	}
	if strings.ContainsAny(pathPart, "*?[") {
		return nil
	}
	if _, err := os.Stat(full); err != nil {
		return errors.NewConfigurationError("test path not found: "+full, "")
	}
	return nil
}

func within(root, path string) bool {
	if root == string(filepath.Separator) {
		return filepath.IsAbs(path)
	}
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}
