package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileInDir joins name onto baseDir and guarantees the result stays inside
// baseDir. name must be a single path element.
func FileInDir(baseDir, name string) (string, error) {
	if baseDir == "" {
		return "", fmt.Errorf("base directory cannot be empty")
	}
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("file name %q must not contain path separators", name)
	}
	for _, char := range name {
		if char < 32 {
			return "", fmt.Errorf("file name contains control characters")
		}
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("resolving base directory: %w", err)
	}
	path := filepath.Join(absBase, name)

	rel, err := filepath.Rel(absBase, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes %s", path, absBase)
	}
	return path, nil
}

// IsWithin reports whether path lies inside baseDir.
func IsWithin(baseDir, path string) bool {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}

// EnsureDirectory creates path with secure permissions if it is missing and
// verifies it is a directory.
func EnsureDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("checking directory: %w", err)
		}
		if mkErr := os.MkdirAll(path, 0o755); mkErr != nil {
			return fmt.Errorf("failed to create directory: %w", mkErr)
		}
		return nil
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory: %s", path)
	}
	return nil
}
