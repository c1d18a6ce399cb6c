package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// LocalSource is a source tree already present on the local
// filesystem, used for in-repo packages and tests.
type LocalSource struct {
	verifications
	path string
	name string
}

// NewLocalSource builds a source over an existing directory.
func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path, name: filepath.Base(path)}
}

func (s *LocalSource) Name() string { return s.name }
func (s *LocalSource) URL() string  { return "file://" + s.path }

func (s *LocalSource) Fetch(ctx context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("local source %s is not a directory", s.path)
	}
	return s.path, nil
}

// Tarball packs the directory into a gzip-compressed tar with
// uniqueName as the top-level directory.
func (s *LocalSource) Tarball(ctx context.Context, uniqueName, nameTpl, targetDir string) (string, error) {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}
	if nameTpl == "" {
		nameTpl = DefaultNameTpl(uniqueName)
	}
	targetPath := filepath.Join(targetDir, renderName(nameTpl, "", ".gz"))
	if err := tarDirGz(dir, uniqueName, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// Copy replicates the source tree into targetDir.
func (s *LocalSource) Copy(ctx context.Context, targetDir string) error {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}
	return os.CopyFS(targetDir, os.DirFS(dir))
}
