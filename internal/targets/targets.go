// Package targets turns a resolved package closure into a native
// installable artifact. Each supported packaging system lives in a
// subpackage and registers itself here; the shared build orchestrator
// drives source staging, patching and stage script composition while
// the per-target driver supplies layout and native tooling.
package targets

import (
	"context"
	"fmt"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

// UnsupportedPlatformError reports a host no registered target can
// produce packages for.
type UnsupportedPlatformError struct {
	OS      string
	Distro  string
	Version string
}

func (e *UnsupportedPlatformError) Error() string {
	switch {
	case e.Distro != "":
		return fmt.Sprintf("unsupported platform: %s %s", e.Distro, e.Version)
	case e.Version != "":
		return fmt.Sprintf("unsupported platform: %s %s", e.OS, e.Version)
	default:
		return fmt.Sprintf("unsupported platform: %s", e.OS)
	}
}

// Target describes one native packaging destination.
type Target interface {
	// Name is the human-readable target description.
	Name() string
	// Ident is the short identifier used in artifact names, for
	// example "debian12" or "el8".
	Ident() string
	// Triple is the GNU-style platform triple.
	Triple() string
	Arch() string
	Libc() string
	ExeSuffix() string
	// Capabilities lists optional platform features such as "systemd".
	Capabilities() []string

	// InstallPrefix is the absolute installation prefix for an
	// artifact built from root.
	InstallPrefix(root *packages.Package) string
	// InstallPath is the absolute destination for an install aspect of
	// pkg within a root artifact.
	InstallPath(root, pkg *packages.Package, aspect packages.InstallAspect) string

	// PackageRepository exposes the target's native package
	// repository, or nil when the target has none.
	PackageRepository() packages.Repository
	// SystemTools maps logical tool names to system commands the
	// target guarantees.
	SystemTools() map[string]string

	// NewBuild creates a build for a request against this target.
	NewBuild(req *BuildRequest) (Build, error)
}

// Build is one packaging run.
type Build interface {
	Run(ctx context.Context) error
	// Artifacts lists the produced output files after a successful
	// Run.
	Artifacts() []string
}

// BuildRequest carries everything a target needs to produce an
// artifact. Deps and BuildDeps are complete resolved closures in
// build order, root package last.
type BuildRequest struct {
	Root      *packages.Package
	Deps      []*packages.Package
	BuildDeps []*packages.Package

	// WorkDir hosts the build tree; empty means a fresh temp dir.
	WorkDir   string
	OutputDir string
	// KeepWork leaves the work tree behind for inspection.
	KeepWork bool

	// Revision is the package revision, "1" when unset.
	Revision string
	// Subdist further qualifies the distribution channel, for example
	// "nightly".
	Subdist string
	// Jobs bounds native build parallelism; zero picks the CPU count.
	Jobs int
}

// DetectOptions select between the host native target and the
// portable generic ones.
type DetectOptions struct {
	Generic bool
	Libc    string
}

// Detector inspects the host and claims it by returning a target.
// Returning (nil, nil) passes to the next detector.
type Detector func(host *system.HostInfo, opts DetectOptions) (Target, error)

var (
	detectors       []Detector
	genericDetector Detector
)

// RegisterDetector adds a host detector. Target subpackages call this
// from init.
func RegisterDetector(d Detector) {
	detectors = append(detectors, d)
}

// RegisterGenericDetector installs the detector used when a portable
// artifact is requested.
func RegisterGenericDetector(d Detector) {
	genericDetector = d
}

// Detect picks the target for the host, or the generic target when
// requested.
func Detect(host *system.HostInfo, opts DetectOptions) (Target, error) {
	if opts.Generic {
		if genericDetector == nil {
			return nil, &UnsupportedPlatformError{OS: host.OS}
		}
		return genericDetector(host, opts)
	}
	for _, detect := range detectors {
		target, err := detect(host, opts)
		if err != nil {
			return nil, err
		}
		if target != nil {
			return target, nil
		}
	}
	return nil, &UnsupportedPlatformError{
		OS:      host.OS,
		Distro:  host.ID,
		Version: host.VersionID,
	}
}
