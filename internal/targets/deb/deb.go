// Package deb builds Debian source trees and binary packages for
// Debian and Ubuntu hosts, and resolves system dependencies against
// the apt package database.
package deb

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
	if host.OS != "linux" || (!host.Like("debian") && !host.Like("ubuntu")) {
		return nil, nil
	}
	major, minor := host.VersionParts()
	switch host.ID {
	case "debian":
		if major < 9 {
			return nil, &targets.UnsupportedPlatformError{
				OS: host.OS, Distro: host.ID, Version: host.VersionID,
			}
		}
	case "ubuntu":
		if major < 18 || (major == 18 && minor < 4) {
			return nil, &targets.UnsupportedPlatformError{
				OS: host.OS, Distro: host.ID, Version: host.VersionID,
			}
		}
	}
	return &Target{host: host}, nil
}

// Target is a Debian-family packaging destination.
type Target struct {
	host *system.HostInfo
}

func (t *Target) Name() string {
	name := t.host.ID + "-" + t.host.VersionID
	if t.host.Codename != "" {
		name += " (" + t.host.Codename + ")"
	}
	return name
}

func (t *Target) Ident() string {
	major, _ := t.host.VersionParts()
	return t.host.ID + strconv.Itoa(major)
}

func (t *Target) Triple() string {
	return t.host.Arch + "-unknown-linux-gnu"
}

func (t *Target) Arch() string { return t.host.Arch }
func (t *Target) Libc() string { return "glibc" }

func (t *Target) ExeSuffix() string { return "" }

func (t *Target) Capabilities() []string {
	return []string{"systemd", "tzdata"}
}

// Codename is the distribution codename used in changelog entries.
func (t *Target) Codename() string {
	if t.host.Codename != "" {
		return t.host.Codename
	}
	return t.host.ID
}

func (t *Target) InstallPrefix(root *packages.Package) string {
	return "/usr/lib/" + root.Name
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
	case packages.AspectSysConf:
		return "/etc/" + root.Name
	case packages.AspectUserConf:
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
