package sources

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"golang.org/x/sys/unix"
)

// cacheRootOverride redirects the cache for tests.
var cacheRootOverride string

// CacheDir returns the root of the persistent download cache.
func CacheDir() (string, error) {
	root := cacheRootOverride
	if root == "" {
		root = filepath.Join(xdg.CacheHome, "metaforge")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", root, err)
	}
	return root, nil
}

func distfilesDir() (string, error) {
	root, err := CacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "distfiles")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func gitCacheDir() (string, error) {
	root, err := CacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, "git")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// withFileLock serializes mutation of a cache entry across processes.
// The lock file lives next to the entry and is left in place.
func withFileLock(entryPath string, fn func() error) error {
	lockPath := entryPath + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return fn()
}
