package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/metaforge-build/metaforge/internal/utils/logger"
)

// HTTPSSource is a distfile downloaded over HTTP(S) into the
// persistent cache.
type HTTPSSource struct {
	verifications
	url  string
	name string
}

func (s *HTTPSSource) Name() string { return s.name }
func (s *HTTPSSource) URL() string  { return s.url }

// Fetch returns the cached distfile, downloading it if missing. A
// cached file that fails verification is thrown away and downloaded
// once more.
func (s *HTTPSSource) Fetch(ctx context.Context) (string, error) {
	log := logger.Logger()
	dir, err := distfilesDir()
	if err != nil {
		return "", err
	}
	destination := filepath.Join(dir, s.name)

	err = withFileLock(destination, func() error {
		if _, statErr := os.Stat(destination); statErr == nil {
			if verifyErr := s.Verify(destination); verifyErr == nil {
				return nil
			}
			log.Warnf("cached %s exists but does not pass verification, downloading anew", s.name)
			if rmErr := os.Remove(destination); rmErr != nil {
				return rmErr
			}
		}
		return s.download(ctx, destination)
	})
	if err != nil {
		return "", err
	}
	return destination, nil
}

func (s *HTTPSSource) download(ctx context.Context, destination string) error {
	log := logger.Logger()
	log.Infof("downloading %s", s.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", s.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download of %s failed: %s", s.url, resp.Status)
	}

	out, err := os.Create(destination)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription("downloading "+s.name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	_, err = io.Copy(io.MultiWriter(out, bar), resp.Body)
	bar.Finish()
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destination)
		return fmt.Errorf("download of %s failed: %w", s.url, err)
	}

	if err := s.Verify(destination); err != nil {
		os.Remove(destination)
		return err
	}
	return nil
}

// Tarball stages the downloaded archive under targetDir with the
// template-derived name. Tar archives are copied as-is; zip archives
// are repacked into tar.gz.
func (s *HTTPSSource) Tarball(ctx context.Context, uniqueName, nameTpl, targetDir string) (string, error) {
	if nameTpl == "" {
		nameTpl = DefaultNameTpl(uniqueName)
	}
	src, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}

	var comp string
	base := filepath.Base(src)
	switch {
	case strings.HasSuffix(base, ".tgz"):
		comp = ".gz"
	case strings.HasSuffix(base, ".tbz2"):
		comp = ".bz2"
	case strings.HasSuffix(base, ".tar"):
		comp = ""
	case strings.Contains(base, ".tar."):
		comp = filepath.Ext(base)
	case strings.HasSuffix(base, ".zip"):
		return s.repackZip(src, uniqueName, nameTpl, targetDir)
	default:
		return "", fmt.Errorf("unsupported archive format: %s", base)
	}

	targetPath := filepath.Join(targetDir, renderName(nameTpl, "", comp))
	if err := copyFile(src, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// repackZip converts a single-top-directory zip into tar.gz.
func (s *HTTPSSource) repackZip(src, uniqueName, nameTpl, targetDir string) (string, error) {
	targetPath := filepath.Join(targetDir, renderName(nameTpl, "", ".gz"))
	tmpdir, err := os.MkdirTemp("", "metaforge-zip-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpdir)

	if err := Unpack(src, tmpdir, false); err != nil {
		return "", err
	}
	entries, err := os.ReadDir(tmpdir)
	if err != nil {
		return "", err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return "", fmt.Errorf("expected a single top-level directory in %s", filepath.Base(src))
	}
	top := entries[0].Name()
	if err := tarDirGz(filepath.Join(tmpdir, top), top, targetPath); err != nil {
		return "", err
	}
	return targetPath, nil
}

// Copy unpacks the downloaded archive into targetDir with the
// top-level directory stripped.
func (s *HTTPSSource) Copy(ctx context.Context, targetDir string) error {
	tmpdir, err := os.MkdirTemp("", "metaforge-src-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpdir)

	tarball, err := s.Tarball(ctx, "tmp", "tmp{part}.tar{comp}", tmpdir)
	if err != nil {
		return err
	}
	return Unpack(tarball, targetDir, true)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
