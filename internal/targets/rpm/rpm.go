// Package rpm builds binary RPMs on RHEL-family and Fedora hosts via
// a generated spec file and rpmbuild, and resolves system
// dependencies against the yum package database.
package rpm

import (
	"strconv"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

func init() {
	targets.RegisterDetector(detect)
}

func detect(host *system.HostInfo, opts targets.DetectOptions) (targets.Target, error) {
	if host.OS != "linux" {
		return nil, nil
	}
	major, _ := host.VersionParts()
	switch {
	case host.ID == "fedora":
		if major < 34 {
			return nil, &targets.UnsupportedPlatformError{
				OS: host.OS, Distro: host.ID, Version: host.VersionID,
			}
		}
		return &Target{host: host, dist: "fc" + strconv.Itoa(major)}, nil
	case host.Like("rhel") || host.Like("centos") || host.Like("fedora"):
		if major < 8 {
			return nil, &targets.UnsupportedPlatformError{
				OS: host.OS, Distro: host.ID, Version: host.VersionID,
			}
		}
		return &Target{host: host, dist: "el" + strconv.Itoa(major)}, nil
	default:
		return nil, nil
	}
}

// Target is an RPM-based packaging destination.
type Target struct {
	host *system.HostInfo
	dist string
}

func (t *Target) Name() string {
	return t.host.ID + "-" + t.host.VersionID + " (" + t.dist + ")"
}

func (t *Target) Ident() string { return t.dist }

func (t *Target) Triple() string {
	return t.host.Arch + "-unknown-linux-gnu"
}

func (t *Target) Arch() string { return t.host.Arch }
func (t *Target) Libc() string { return "glibc" }

func (t *Target) ExeSuffix() string { return "" }

func (t *Target) Capabilities() []string {
	return []string{"systemd", "tzdata"}
}

func (t *Target) InstallPrefix(root *packages.Package) string {
	return "/usr/lib64/" + root.Name
}

func (t *Target) InstallPath(root, pkg *packages.Package, aspect packages.InstallAspect) string {
	prefix := t.InstallPrefix(root)
	switch aspect {
	case packages.AspectBin:
		return prefix + "/bin"
	case packages.AspectSystemBin:
		return "/usr/bin"
	case packages.AspectLib:
		return prefix + "/lib"
	case packages.AspectInclude:
		return "/usr/include/" + root.Name
	case packages.AspectData:
		return "/usr/share/" + root.Name
	case packages.AspectSysConf, packages.AspectUserConf:
		return "/etc/" + root.Name
	case packages.AspectLocalState:
		return "/var/lib/" + root.Name
	case packages.AspectRunState:
		return "/run"
	case packages.AspectLegal:
		return "/usr/share/doc/" + root.Name + "/licenses"
	case packages.AspectDoc:
		return "/usr/share/doc/" + root.Name
	case packages.AspectMan:
		return "/usr/share/man"
	case packages.AspectInfo:
		return "/usr/share/info"
	default:
		return prefix
	}
}

func (t *Target) PackageRepository() packages.Repository {
	return NewRepository()
}

func (t *Target) SystemTools() map[string]string {
	return map[string]string{
		"bash":   "/bin/bash",
		"python": "python3",
	}
}

func (t *Target) NewBuild(req *targets.BuildRequest) (targets.Build, error) {
	b := &Build{target: t}
	b.CommonBuild = targets.NewCommon(req, t, b)
	return b, nil
}
