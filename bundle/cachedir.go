package bundle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DefaultCacheName is the directory created under the user cache directory.
const DefaultCacheName = "monacoharness"

var ErrCacheDir = errors.New("could not find cache directory")

// CacheDir resolves the build cache directory. An explicit dir wins; otherwise
// $XDG_CACHE_HOME (or the platform equivalent) joined with name is used.
func CacheDir(dir, name string) (string, error) {
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrCacheDir, err)
		}
		if name == "" {
			name = DefaultCacheName
		}
		dir = filepath.Join(base, name)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCacheDir, err)
	}
	return abs, nil
}

// ResetCacheDir removes dir and everything in it, then recreates it empty.
// Stale artifacts from a previous session must never be served.
func ResetCacheDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: clear %s: %w", ErrCacheDir, dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrCacheDir, dir, err)
	}
	return nil
}
