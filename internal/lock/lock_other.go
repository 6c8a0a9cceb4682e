//go:build !darwin && !linux

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Acquire creates path exclusively; the file is removed on Release.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrLocked)
	}
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return &Lock{path: path, release: func() error { return os.Remove(path) }}, nil
}
