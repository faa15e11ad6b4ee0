// Package fileutil holds local file helpers shared by the composer and the
// stitcher: per-invocation scratch directories and file sizes.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ScratchDir creates a fresh directory under parent and returns it with a
// cleanup func that removes it and everything inside. The cleanup is safe to
// call more than once.
func ScratchDir(parent, pattern string) (string, func() error, error) {
	if strings.TrimSpace(parent) == "" {
		parent = os.TempDir()
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return "", nil, fmt.Errorf("create scratch parent: %w", err)
	}
	dir, err := os.MkdirTemp(parent, pattern)
	if err != nil {
		return "", nil, fmt.Errorf("create scratch dir: %w", err)
	}
	cleanup := func() error {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove scratch dir %s: %w", dir, err)
		}
		return nil
	}
	return dir, cleanup, nil
}

// Size returns the size of the regular file at path.
func Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", filepath.Base(path))
	}
	return info.Size(), nil
}
