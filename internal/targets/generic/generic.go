// Package generic builds relocatable archive artifacts that do not
// depend on a native packaging system: a /opt/<name> tree delivered
// as a tarball, a zip, or a single binary for flat layouts.
package generic

import (
	"fmt"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

func init() {
	targets.RegisterGenericDetector(detect)
}

func detect(host *system.HostInfo, opts targets.DetectOptions) (targets.Target, error) {
	libc := ""
	if host.OS == "linux" {
		switch opts.Libc {
		case "", "glibc":
			libc = "glibc"
		case "musl":
			libc = "musl"
		default:
			return nil, fmt.Errorf("unsupported libc: %s", opts.Libc)
		}
	}
	return &Target{os: host.OS, arch: host.Arch, libc: libc}, nil
}

// Target is the portable archive target for one OS/arch/libc
// combination.
type Target struct {
	os   string
	arch string
	libc string
}

func (t *Target) Name() string {
	name := "generic-" + t.os
	if t.libc == "musl" {
		name += "-musl"
	}
	return name
}

func (t *Target) Ident() string {
	ident := t.os
	if t.libc == "musl" {
		ident += "musl"
	}
	return ident
}

func (t *Target) Triple() string {
	switch t.os {
	case "linux":
		abi := "gnu"
		if t.libc == "musl" {
			abi = "musl"
		}
		return fmt.Sprintf("%s-unknown-linux-%s", t.arch, abi)
	case "windows":
		return fmt.Sprintf("%s-pc-windows-msvc", t.arch)
	case "darwin":
		return fmt.Sprintf("%s-apple-darwin", t.arch)
	default:
		return fmt.Sprintf("%s-unknown-%s", t.arch, t.os)
	}
}

func (t *Target) Arch() string { return t.arch }
func (t *Target) Libc() string { return t.libc }

func (t *Target) ExeSuffix() string {
	if t.os == "windows" {
		return ".exe"
	}
	return ""
}

func (t *Target) Capabilities() []string { return nil }

func (t *Target) InstallPrefix(root *packages.Package) string {
	return "/opt/" + root.Name
}

func (t *Target) InstallPath(root, pkg *packages.Package, aspect packages.InstallAspect) string {
	prefix := t.InstallPrefix(root)
	switch aspect {
	case packages.AspectBin, packages.AspectSystemBin:
		return prefix + "/bin"
	case packages.AspectLib:
		return prefix + "/lib"
	case packages.AspectInclude:
		return prefix + "/include"
	case packages.AspectData:
		return prefix + "/share"
	case packages.AspectSysConf, packages.AspectUserConf:
		return prefix + "/etc"
	case packages.AspectLocalState:
		return prefix + "/var"
	case packages.AspectRunState:
		return prefix + "/var/run"
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

// PackageRepository returns nil; the generic target bundles
// everything and installs nothing from system repositories.
func (t *Target) PackageRepository() packages.Repository { return nil }

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
