// Package sources fetches package sources over HTTPS, from git
// remotes or from local directories, verifies them and materializes
// them as tarballs for native build systems.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Source is a single origin of package source code.
type Source interface {
	// Name is the basename the source is cached and staged under.
	Name() string
	// URL is the origin location.
	URL() string
	// AddVerification attaches a check applied to fetched files.
	AddVerification(v Verification)
	// Verify runs all attached verifications against path.
	Verify(path string) error
	// Fetch downloads the source into the persistent cache and
	// returns the local path (a file for archives, a directory for
	// git checkouts).
	Fetch(ctx context.Context) (string, error)
	// Tarball materializes the source as a tarball in targetDir. The
	// file name is rendered from nameTpl; uniqueName becomes the
	// top-level directory inside the archive where the format allows
	// control over it.
	Tarball(ctx context.Context, uniqueName, nameTpl, targetDir string) (string, error)
	// Copy unpacks the source tree into targetDir.
	Copy(ctx context.Context, targetDir string) error
}

// Options carries per-source settings from the package recipe.
type Options struct {
	// Ref pins a git source to a branch, tag or commit.
	Ref string
	// ExcludeSubmodules lists git submodule paths to leave out,
	// matched exactly against the configured submodule paths.
	ExcludeSubmodules []string
	// CloneDepth bounds git history depth; zero means full history.
	CloneDepth int
	// IncludeGitDir adds the .git directory to produced tarballs.
	IncludeGitDir bool
}

// ForURL constructs the source implementation for a URL. Supported
// schemes: https, http, git+<scheme> and file.
func ForURL(rawURL string, opts Options) (Source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}
	pathParts := strings.Split(u.Path, "/")
	name := pathParts[len(pathParts)-1]

	switch {
	case u.Scheme == "https" || u.Scheme == "http":
		return &HTTPSSource{url: rawURL, name: name}, nil
	case strings.HasPrefix(u.Scheme, "git+"):
		return &GitSource{
			url:               strings.TrimPrefix(rawURL, "git+"),
			name:              strings.TrimSuffix(name, ".git"),
			ref:               opts.Ref,
			excludeSubmodules: opts.ExcludeSubmodules,
			cloneDepth:        opts.CloneDepth,
			includeGitDir:     opts.IncludeGitDir,
		}, nil
	case u.Scheme == "file":
		return &LocalSource{path: u.Path, name: name}, nil
	default:
		return nil, fmt.Errorf("unsupported source URL scheme: %s", u.Scheme)
	}
}

// renderName expands the {part} and {comp} placeholders of a tarball
// name template.
func renderName(tpl, part, comp string) string {
	s := strings.ReplaceAll(tpl, "{part}", part)
	return strings.ReplaceAll(s, "{comp}", comp)
}

// DefaultNameTpl is the tarball name template used when a target does
// not impose its own naming scheme.
func DefaultNameTpl(uniqueName string) string {
	return uniqueName + "{part}.tar{comp}"
}

type verifications struct {
	checks []Verification
}

func (v *verifications) AddVerification(check Verification) {
	v.checks = append(v.checks, check)
}

func (v *verifications) Verify(path string) error {
	for _, check := range v.checks {
		if err := check.Verify(path); err != nil {
			return err
		}
	}
	return nil
}
