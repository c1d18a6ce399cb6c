package sources

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// GitSource is a git remote kept as a persistent clone in the cache.
type GitSource struct {
	verifications
	url               string
	name              string
	ref               string
	excludeSubmodules []string
	cloneDepth        int
	includeGitDir     bool
}

func (s *GitSource) Name() string { return s.name }
func (s *GitSource) URL() string  { return s.url }

// Ref returns the pinned branch, tag or commit, if any.
func (s *GitSource) Ref() string { return s.ref }

// SetRef re-pins the source to another branch, tag or commit. It only
// affects subsequent Fetch calls.
func (s *GitSource) SetRef(ref string) { s.ref = ref }

// repoDir is the cache checkout location for this remote. The URL
// hash suffix keeps same-named repos from different remotes apart.
func (s *GitSource) repoDir() (string, error) {
	root, err := gitCacheDir()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(s.url))
	return filepath.Join(root, s.name+"-"+hex.EncodeToString(sum[:4])), nil
}

func (s *GitSource) run(ctx context.Context, dir string, args ...string) (string, error) {
	out, err := shell.Run(ctx, "git", args, shell.RunOpts{Dir: dir})
	return strings.TrimSpace(out), err
}

// Fetch clones or refreshes the cached checkout and returns its path.
// An existing checkout whose origin URL changed is discarded and
// cloned afresh.
func (s *GitSource) Fetch(ctx context.Context) (string, error) {
	log := logger.Logger()
	dir, err := s.repoDir()
	if err != nil {
		return "", err
	}

	err = withFileLock(dir, func() error {
		if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
			remote, remoteErr := s.run(ctx, dir, "config", "--get", "remote.origin.url")
			if remoteErr == nil && remote == s.url {
				return s.refresh(ctx, dir)
			}
			log.Warnf("cached checkout of %s points at %s, recloning", s.name, remote)
			if rmErr := os.RemoveAll(dir); rmErr != nil {
				return rmErr
			}
		}
		return s.clone(ctx, dir)
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (s *GitSource) clone(ctx context.Context, dir string) error {
	args := []string{"clone"}
	if s.cloneDepth > 0 {
		args = append(args, fmt.Sprintf("--depth=%d", s.cloneDepth))
	}
	args = append(args, s.url, dir)
	if _, err := s.run(ctx, "", args...); err != nil {
		return fmt.Errorf("cloning %s: %w", s.url, err)
	}
	if s.ref != "" && s.ref != "HEAD" {
		if err := s.checkoutRef(ctx, dir); err != nil {
			return err
		}
	}
	return s.updateSubmodules(ctx, dir)
}

// refresh re-synchronizes an existing checkout. With a pinned ref the
// ref is fetched and checked out; otherwise the current branch is
// hard-reset to its configured tracking ref.
func (s *GitSource) refresh(ctx context.Context, dir string) error {
	if s.ref != "" && s.ref != "HEAD" {
		if err := s.checkoutRef(ctx, dir); err != nil {
			return err
		}
		return s.updateSubmodules(ctx, dir)
	}

	branch, err := s.run(ctx, dir, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return fmt.Errorf("reading current branch of %s: %w", dir, err)
	}
	remote, err := s.run(ctx, dir, "config", "branch."+branch+".remote")
	if err != nil || remote == "" {
		remote = "origin"
	}
	mergeRef, err := s.run(ctx, dir, "config", "branch."+branch+".merge")
	if err != nil || mergeRef == "" {
		mergeRef = "refs/heads/" + branch
	}
	if _, err := s.run(ctx, dir, "fetch", remote, mergeRef); err != nil {
		return fmt.Errorf("fetching %s from %s: %w", mergeRef, s.url, err)
	}
	if _, err := s.run(ctx, dir, "reset", "--hard", "FETCH_HEAD"); err != nil {
		return err
	}
	return s.updateSubmodules(ctx, dir)
}

func (s *GitSource) checkoutRef(ctx context.Context, dir string) error {
	// Try the ref as a remote ref first; a raw commit hash from full
	// history is checked out directly.
	if _, err := s.run(ctx, dir, "fetch", "origin", s.ref); err == nil {
		_, err = s.run(ctx, dir, "checkout", "--force", "FETCH_HEAD")
		return err
	}
	if _, err := s.run(ctx, dir, "checkout", "--force", s.ref); err != nil {
		return fmt.Errorf("cannot check out %s of %s: %w", s.ref, s.url, err)
	}
	return nil
}

// updateSubmodules initializes all configured submodules except the
// excluded ones, which are deinit-ed. Exclusions match configured
// submodule paths exactly.
func (s *GitSource) updateSubmodules(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, ".gitmodules")); err != nil {
		return nil
	}
	out, err := s.run(ctx, dir,
		"config", "--file", ".gitmodules", "--name-only", "--get-regexp", "path")
	if err != nil {
		return fmt.Errorf("reading .gitmodules of %s: %w", s.url, err)
	}

	excluded := make(map[string]bool, len(s.excludeSubmodules))
	for _, p := range s.excludeSubmodules {
		excluded[p] = true
	}
	var wanted, deinit []string
	for _, key := range strings.Fields(out) {
		path, pathErr := s.run(ctx, dir, "config", "--file", ".gitmodules", key)
		if pathErr != nil {
			return pathErr
		}
		if excluded[path] {
			deinit = append(deinit, path)
		} else {
			wanted = append(wanted, path)
		}
	}

	if len(wanted) > 0 {
		args := []string{"submodule", "update", "--init", "--checkout", "--force"}
		if s.cloneDepth > 0 {
			args = append(args, fmt.Sprintf("--depth=%d", s.cloneDepth))
		}
		args = append(args, wanted...)
		if _, err := s.run(ctx, dir, args...); err != nil {
			return fmt.Errorf("updating submodules of %s: %w", s.url, err)
		}
	}
	if len(deinit) > 0 {
		args := append([]string{"submodule", "deinit"}, deinit...)
		if _, err := s.run(ctx, dir, args...); err != nil {
			return err
		}
	}
	return nil
}

var submoduleEnteringRe = regexp.MustCompile(`Entering '([^']+)'`)

// Tarball produces a gzip-compressed tar of the checkout at the
// pinned ref, with uniqueName as the top-level directory. Submodule
// trees are archived under their nested paths. The output is
// deterministic for a given commit set, modulo gzip metadata.
func (s *GitSource) Tarball(ctx context.Context, uniqueName, nameTpl, targetDir string) (string, error) {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}
	if nameTpl == "" {
		nameTpl = DefaultNameTpl(uniqueName)
	}
	plainPath := filepath.Join(targetDir, renderName(nameTpl, "", ""))

	if _, err := s.run(ctx, dir, "archive",
		"--format=tar",
		"--output="+plainPath,
		"--prefix="+uniqueName+"/",
		"HEAD"); err != nil {
		return "", fmt.Errorf("archiving %s: %w", s.url, err)
	}

	subPaths, err := s.submodulePaths(ctx, dir)
	if err != nil {
		return "", err
	}
	if len(subPaths) > 0 || s.includeGitDir {
		if err := s.amendTarball(ctx, dir, plainPath, uniqueName, subPaths); err != nil {
			return "", err
		}
	}

	gzPath := plainPath + ".gz"
	if err := gzipFile(plainPath, gzPath); err != nil {
		return "", err
	}
	return gzPath, nil
}

func (s *GitSource) submodulePaths(ctx context.Context, dir string) ([]string, error) {
	out, err := s.run(ctx, dir, "submodule", "foreach", "--recursive")
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := submoduleEnteringRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("cannot parse git submodule foreach output: %q", line)
		}
		paths = append(paths, m[1])
	}
	return paths, nil
}

// amendTarball rewrites the archive, appending submodule archives and
// optionally the .git directory.
func (s *GitSource) amendTarball(ctx context.Context, dir, plainPath, uniqueName string, subPaths []string) error {
	tmpdir, err := os.MkdirTemp("", "metaforge-git-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpdir)

	amended := plainPath + ".amend"
	out, err := os.Create(amended)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(out)

	if err := appendTar(tw, plainPath); err != nil {
		out.Close()
		return err
	}
	for i, sub := range subPaths {
		subArchive := filepath.Join(tmpdir, fmt.Sprintf("sub-%d.tar", i))
		if _, err := s.run(ctx, filepath.Join(dir, sub), "archive",
			"--format=tar",
			"--output="+subArchive,
			"--prefix="+uniqueName+"/"+sub+"/",
			"HEAD"); err != nil {
			return fmt.Errorf("archiving submodule %s: %w", sub, err)
		}
		if err := appendTar(tw, subArchive); err != nil {
			out.Close()
			return err
		}
	}
	if s.includeGitDir {
		if err := writeTree(tw, filepath.Join(dir, ".git"), uniqueName+"/.git/"); err != nil {
			out.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(amended, plainPath)
}

// Copy exports the checked-out work tree into targetDir.
func (s *GitSource) Copy(ctx context.Context, targetDir string) error {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(targetDir, string(os.PathSeparator)) {
		targetDir += string(os.PathSeparator)
	}
	_, err = s.run(ctx, dir, "checkout-index", "-a", "-f", "--prefix="+targetDir)
	return err
}

// Describe resolves a human version for the checkout via git
// describe; tags is the match pattern, empty for any tag.
func (s *GitSource) Describe(ctx context.Context, tags string) (string, error) {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}
	args := []string{"describe", "--tags", "--always"}
	if tags != "" {
		args = append(args, "--match", tags)
	}
	return s.run(ctx, dir, args...)
}

// RevParse resolves a ref in the cached checkout to a commit hash.
func (s *GitSource) RevParse(ctx context.Context, ref string) (string, error) {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return "", err
	}
	return s.run(ctx, dir, "rev-parse", ref)
}

// CommitTimestamp returns the unix timestamp of the current commit.
func (s *GitSource) CommitTimestamp(ctx context.Context) (int64, error) {
	dir, err := s.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	out, err := s.run(ctx, dir, "log", "-1", "--format=%ct")
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(out, 10, 64)
}
