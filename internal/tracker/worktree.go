package tracker

import (
	"fmt"
	"os"
	"path/filepath"
)

// CanonicalWorkTree resolves path to an absolute directory with symlinks
// evaluated. Every failure wraps ErrHomeDirectoryNotFound.
func CanonicalWorkTree(path string) (string, error) {
	if path == "" {
		return "", ErrHomeDirectoryNotFound
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHomeDirectoryNotFound, path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHomeDirectoryNotFound, path, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrHomeDirectoryNotFound, path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrHomeDirectoryNotFound, path)
	}
	return resolved, nil
}
