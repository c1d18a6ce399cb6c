package sources

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// Unpack extracts an archive into dest. With stripTop set, the single
// synthetic top-level directory is removed from every entry path;
// entries directly at the top level are skipped.
func Unpack(archive, dest string, stripTop bool) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	base := filepath.Base(archive)
	switch {
	case strings.HasSuffix(base, ".zip"):
		return unpackZip(archive, dest, stripTop)
	case strings.Contains(base, ".tar") ||
		strings.HasSuffix(base, ".tgz") ||
		strings.HasSuffix(base, ".tbz2"):
		return unpackTar(archive, dest, stripTop)
	default:
		return fmt.Errorf("%s is not a supported archive", base)
	}
}

func unpackTar(archive, dest string, stripTop bool) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch {
	case strings.HasSuffix(archive, ".gz"), strings.HasSuffix(archive, ".tgz"):
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer zr.Close()
		r = zr
	case strings.HasSuffix(archive, ".bz2"), strings.HasSuffix(archive, ".tbz2"):
		r = bzip2.NewReader(f)
	case strings.HasSuffix(archive, ".xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		r = xr
	case strings.HasSuffix(archive, ".tar"):
		r = f
	default:
		return fmt.Errorf("%s is not a supported archive", filepath.Base(archive))
	}

	tr := tar.NewReader(r)
	// Directory mtimes are fixed up after extraction, writing files
	// into a directory bumps its mtime.
	type dirTime struct {
		path string
		mod  time.Time
	}
	var dirTimes []dirTime

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		name, ok := entryPath(hdr.Name, stripTop)
		if !ok {
			continue
		}
		target, err := securePath(dest, name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode).Perm()|0o700); err != nil {
				return err
			}
			dirTimes = append(dirTimes, dirTime{target, hdr.ModTime})
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			linkSrc, err := securePath(dest, mustEntryPath(hdr.Linkname, stripTop))
			if err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(linkSrc, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY,
				os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		}
	}

	for i := len(dirTimes) - 1; i >= 0; i-- {
		os.Chtimes(dirTimes[i].path, dirTimes[i].mod, dirTimes[i].mod)
	}
	return nil
}

func unpackZip(archive, dest string, stripTop bool) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, member := range zr.File {
		name, ok := entryPath(member.Name, stripTop)
		if !ok {
			continue
		}
		target, err := securePath(dest, name)
		if err != nil {
			return err
		}
		if member.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		src, err := member.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY,
			member.Mode().Perm()|0o600)
		if err != nil {
			src.Close()
			return err
		}
		_, err = io.Copy(out, src)
		src.Close()
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// entryPath normalizes an archive member path, optionally dropping
// the top-level component. The second return is false for entries
// that should be skipped.
func entryPath(name string, stripTop bool) (string, bool) {
	name = strings.TrimPrefix(filepath.ToSlash(name), "./")
	name = strings.Trim(name, "/")
	if name == "" {
		return "", false
	}
	if !stripTop {
		return name, true
	}
	parts := strings.Split(name, "/")
	if len(parts) < 2 {
		return "", false
	}
	return strings.Join(parts[1:], "/"), true
}

func mustEntryPath(name string, stripTop bool) string {
	p, _ := entryPath(name, stripTop)
	return p
}

// securePath joins dest and name, rejecting entries that would escape
// the destination directory.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	cleanDest := filepath.Clean(dest) + string(os.PathSeparator)
	if !strings.HasPrefix(target, cleanDest) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}
