// Package macos builds native macOS installer packages. The bundle is
// laid out as a framework under /Library/Frameworks, componentized
// with pkgbuild and wrapped into a distribution package with
// productbuild.
package macos

import (
	"context"
	"strconv"
	"strings"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

func init() {
	targets.RegisterDetector(detect)
}

func detect(host *system.HostInfo, opts targets.DetectOptions) (targets.Target, error) {
	if host.OS != "darwin" {
		return nil, nil
	}
	version, err := productVersion()
	if err != nil {
		return nil, err
	}
	major, _, _ := strings.Cut(version, ".")
	if n, err := strconv.Atoi(major); err != nil || n < 12 {
		return nil, &targets.UnsupportedPlatformError{
			OS: host.OS, Distro: "macos", Version: version,
		}
	}
	return &Target{arch: host.Arch, version: version}, nil
}

func productVersion() (string, error) {
	out, err := shell.Run(context.Background(), "sw_vers",
		[]string{"-productVersion"}, shell.RunOpts{})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Target is the native macOS installer package destination.
type Target struct {
	arch    string
	version string
}

func (t *Target) Name() string { return "macOS " + t.version }

func (t *Target) Ident() string { return "macospkg" }

func (t *Target) Triple() string {
	return t.arch + "-apple-darwin"
}

// archAlias is the architecture name Apple toolchains use.
func (t *Target) archAlias() string {
	if t.arch == "aarch64" {
		return "arm64"
	}
	return t.arch
}

func (t *Target) Arch() string { return t.arch }
func (t *Target) Libc() string { return "" }

func (t *Target) ExeSuffix() string { return "" }

func (t *Target) Capabilities() []string {
	return []string{"launchd"}
}

func title(root *packages.Package) string {
	if root.Title != "" {
		return root.Title
	}
	return root.Name
}

func identifier(root *packages.Package) string {
	if root.Identifier != "" {
		return root.Identifier
	}
	return "dev.metaforge-build." + root.Name
}

// frameworkRoot is the bundle root under /Library/Frameworks.
func (t *Target) frameworkRoot(root *packages.Package) string {
	return "/Library/Frameworks/" + title(root) + ".framework"
}

// installRoot is the versioned subtree of the framework bundle.
func (t *Target) installRoot(root *packages.Package) string {
	return t.frameworkRoot(root) + "/Versions/" + root.PrettyVersion
}

func (t *Target) InstallPrefix(root *packages.Package) string {
	return t.installRoot(root) + "/lib/" + root.Name
}

func (t *Target) InstallPath(root, pkg *packages.Package, aspect packages.InstallAspect) string {
	prefix := t.InstallPrefix(root)
	switch aspect {
	case packages.AspectBin:
		return prefix + "/bin"
	case packages.AspectSystemBin:
		return t.frameworkRoot(root) + "/bin"
	case packages.AspectLib:
		return prefix + "/lib"
	case packages.AspectInclude:
		return prefix + "/include"
	case packages.AspectData:
		return t.installRoot(root) + "/share/" + root.Name
	case packages.AspectSysConf:
		return t.installRoot(root) + "/etc"
	case packages.AspectUserConf:
		return "$HOME/Library/Application Support"
	case packages.AspectLocalState:
		return "/var"
	case packages.AspectRunState:
		return "/var/run"
	case packages.AspectLegal:
		return prefix + "/share/doc/" + pkg.Name + "/licenses"
	case packages.AspectDoc:
		return prefix + "/share/doc/" + pkg.Name
	case packages.AspectMan:
		return prefix + "/share/man"
	case packages.AspectInfo:
		return prefix + "/share/info"
	default:
		return prefix
	}
}

// PackageRepository returns nil; everything not provided by the base
// system is bundled.
func (t *Target) PackageRepository() packages.Repository { return nil }

// SystemTools prefers the GNU variants Homebrew installs, since the
// stage scripts rely on GNU make, sed and tar semantics.
func (t *Target) SystemTools() map[string]string {
	return map[string]string{
		"bash":   "/bin/bash",
		"make":   "gmake",
		"sed":    "gsed",
		"tar":    "gtar",
		"python": "python3",
	}
}

func (t *Target) NewBuild(req *targets.BuildRequest) (targets.Build, error) {
	b := &Build{target: t}
	b.CommonBuild = targets.NewCommon(req, t, b)
	return b, nil
}
