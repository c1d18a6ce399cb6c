package deb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

const maintainer = "metaforge build <packages@metaforge-build.dev>"

// Build stages a 3.0 (quilt) Debian source tree and drives
// dpkg-buildpackage over it.
type Build struct {
	*targets.CommonBuild
	target *Target
}

func (b *Build) RelPath(p string, rel packages.Location, pkg *packages.Package) string {
	switch rel {
	case packages.LocSourceRoot:
		return p
	case packages.LocPkgSource:
		return path.Join("..", p)
	case packages.LocPkgBuild:
		return path.Join("..", "..", "..", p)
	case packages.LocHelpers:
		return path.Join("..", "..", p)
	case packages.LocFSRoot:
		return filepath.Join(b.SrcRoot(), filepath.FromSlash(p))
	default:
		return p
	}
}

func (b *Build) SourceDirRel(pkg *packages.Package) string { return pkg.Name }

func (b *Build) HelpersRootRel() string { return "debian/helpers" }

func (b *Build) TarballRootRel() string { return ".." }

func (b *Build) PatchesRootRel() string { return "debian/patches" }

func (b *Build) TarballName(pkg *packages.Package) string {
	root := b.RootPackage()
	return fmt.Sprintf("%s_%s.orig-%s{part}.tar{comp}",
		root.Name, root.PrettyVersion, pkg.Name)
}

func (b *Build) PackageInstallScript(pkg *packages.Package) (string, error) {
	trim, err := b.TrimInstallScript(pkg)
	if err != nil {
		return "", err
	}
	tmpDir := b.TempDir(pkg, packages.LocPkgBuild)
	srcRoot := b.RelPath(".", packages.LocPkgBuild, pkg)
	installDir := b.BuildInstallDir(pkg, packages.LocSourceRoot)
	installFile := path.Join("debian", b.RootPackage().Name+".install")

	var sb strings.Builder
	sb.WriteString(trim)
	// dh_install treats whitespace as a separator; dh-exec globs
	// tolerate ? in its place.
	fmt.Fprintf(&sb, "sed -e \"s/ /?/g\" \"%s/install.list\" > \"%s\"\n",
		tmpDir, path.Join(srcRoot, installFile))
	fmt.Fprintf(&sb, "pushd \"%s\" >/dev/null\n", srcRoot)
	fmt.Fprintf(&sb, "dh_install --sourcedir=\"%s\"\n", installDir)
	fmt.Fprintf(&sb, "dh_missing --sourcedir=\"%s\" --fail-missing\n", installDir)
	sb.WriteString("popd >/dev/null\n")
	return sb.String(), nil
}

func (b *Build) debRoot() string {
	return filepath.Join(b.SrcRoot(), "debian")
}

func (b *Build) Prepare() error {
	for _, dir := range []string{
		b.debRoot(),
		filepath.Join(b.debRoot(), "source"),
		filepath.Join(b.debRoot(), "patches"),
		filepath.Join(b.debRoot(), "helpers"),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filepath.Join(b.debRoot(), "source", "format"),
		[]byte("3.0 (quilt)\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(b.debRoot(), "compat"),
		[]byte("10\n"), 0o644)
}

// rootVersion is the full native version of the produced package.
func (b *Build) rootVersion() string {
	return fmt.Sprintf("%s-%s~%s",
		b.RootPackage().PrettyVersion, b.Revision(), b.target.Codename())
}

func (b *Build) Package(ctx context.Context) error {
	if err := b.writeSeries(); err != nil {
		return err
	}
	if err := b.writeControl(); err != nil {
		return err
	}
	if err := b.writeChangelog(); err != nil {
		return err
	}
	if err := b.writeRules(); err != nil {
		return err
	}
	if err := b.dpkgBuildpackage(ctx); err != nil {
		return err
	}
	return b.collectArtifacts()
}

func (b *Build) writeSeries() error {
	series := strings.Join(b.Patches(), "\n")
	if series != "" {
		series += "\n"
	}
	return os.WriteFile(filepath.Join(b.debRoot(), "patches", "series"),
		[]byte(series), 0o644)
}

func systemDepSpec(deps []*packages.Package) string {
	var specs []string
	for _, dep := range deps {
		specs = append(specs,
			fmt.Sprintf("%s (>= %s)", dep.SystemName, dep.PrettyVersion))
	}
	return strings.Join(specs, ",\n ")
}

func (b *Build) writeControl() error {
	root := b.RootPackage()

	buildDeps := systemDepSpec(b.SystemDeps(true))
	if buildDeps != "" {
		buildDeps += ","
	}
	deps := systemDepSpec(b.SystemDeps(false))
	if deps != "" {
		deps += ","
	}

	section := strings.ToLower(root.Group)
	if section == "" {
		section = "misc"
	}
	if b.Subdist() != "" && b.Subdist() != "stable" {
		section = section + "/" + b.Subdist()
	}

	meta, err := json.Marshal(targets.NewArtifactMetadata(
		root, b.target, b.Revision(), b.Subdist()))
	if err != nil {
		return err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Source: %s
Priority: optional
Section: %s
Maintainer: %s
Standards-Version: 4.1.5
XCBS-Metaforge-Metadata: %s
Build-Depends:
 debhelper (>= 9~),
 dh-exec (>= 0.13~),
 dpkg-dev (>= 1.16.1~),
 %s

Package: %s
Architecture: any
Depends:
 %s
 ${misc:Depends},
 ${shlibs:Depends}
`,
		root.Name, section, maintainer, meta, buildDeps, root.Name, deps)

	// Transitional names become empty metapackages below; the real
	// package replaces their older incarnations.
	replaces := make([]string, 0, len(root.Transitions))
	for _, old := range root.Transitions {
		replaces = append(replaces, fmt.Sprintf("%s (<< %s)", old, b.rootVersion()))
	}
	if len(root.Conflicts) > 0 {
		fmt.Fprintf(&sb, "Conflicts:\n %s\n", strings.Join(root.Conflicts, ",\n "))
	}
	if len(replaces) > 0 {
		fmt.Fprintf(&sb, "Replaces:\n %s\n", strings.Join(replaces, ",\n "))
	}
	if len(root.Provides) > 0 {
		provides := make([]string, 0, len(root.Provides))
		for _, virt := range root.Provides {
			provides = append(provides, fmt.Sprintf("%s (= %s)", virt, b.rootVersion()))
		}
		fmt.Fprintf(&sb, "Provides:\n %s\n", strings.Join(provides, ",\n "))
	}
	fmt.Fprintf(&sb, "Description:\n %s\n", root.Description)

	for _, old := range root.Transitions {
		fmt.Fprintf(&sb, `
Package: %s
Architecture: any
Priority: optional
Depends:
 %s (= %s), ${misc:Depends}
Description:
 transitional package, can be safely removed, use %s instead
`,
			old, root.Name, b.rootVersion(), root.Name)
	}

	if err := os.WriteFile(filepath.Join(b.debRoot(), "control"),
		[]byte(sb.String()), 0o644); err != nil {
		return err
	}
	// Never export shlibs from the bundle.
	return os.WriteFile(filepath.Join(b.debRoot(), root.Name+".shlibs"),
		nil, 0o644)
}

func (b *Build) writeChangelog() error {
	changelog := fmt.Sprintf(`%s (%s) %s; urgency=medium

  * New version.

 -- %s  %s
`,
		b.RootPackage().Name, b.rootVersion(), b.target.Codename(),
		maintainer,
		time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 -0700"))

	return os.WriteFile(filepath.Join(b.debRoot(), "changelog"),
		[]byte(changelog), 0o644)
}

func (b *Build) writeRules() error {
	configure, err := b.WriteStageScript("configure", packages.StageConfigure, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	build, err := b.WriteStageScript("build", packages.StageBuild, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	buildInstall, err := b.WriteStageScript("build_install", packages.StageBuildInstall, false, packages.LocSourceRoot)
	if err != nil {
		return err
	}
	install, err := b.WriteStageScript("install", packages.StageInstall, true, packages.LocSourceRoot)
	if err != nil {
		return err
	}

	var shlibDirs []string
	for _, pkg := range b.Installable() {
		shlibDirs = append(shlibDirs, b.InstallPath(pkg, packages.AspectLib))
	}
	shlibOpt := ""
	if len(shlibDirs) > 0 {
		shlibOpt = "-l " + strings.Join(shlibDirs, ":")
	}

	rules := fmt.Sprintf(`#!/usr/bin/make -f

include /usr/share/dpkg/architecture.mk

export DH_VERBOSE=1
export SHELL = /bin/bash
export DEB_BUILD_MAINT_OPTIONS = hardening=+all

DPKG_EXPORT_BUILDFLAGS = 1
include /usr/share/dpkg/buildflags.mk

export DPKG_GENSYMBOLS_CHECK_LEVEL=4

%%:
	dh $@

override_dh_auto_configure-indep: stamp/configure-build
override_dh_auto_configure-arch: stamp/configure-build
override_dh_auto_build-indep: stamp/build
override_dh_auto_build-arch: stamp/build

stamp/configure-build:
	mkdir -p stamp _artifacts
	%s
	touch "$@"

stamp/build: stamp/configure-build
	%s
	%s
	touch "$@"

override_dh_strip:
	dh_strip --no-automatic-dbgsym

override_dh_install-arch:
	%s

override_dh_auto_clean:
	rm -rf stamp

override_dh_shlibdeps:
	dh_shlibdeps %s

override_dh_builddeb:
	dh_builddeb -- -Zxz
`,
		configure, build, buildInstall, install, shlibOpt)

	return os.WriteFile(filepath.Join(b.debRoot(), "rules"),
		[]byte(rules), 0o755)
}

func (b *Build) dpkgBuildpackage(ctx context.Context) error {
	args := []string{"-us", "-uc", "--source-option=--create-empty-orig", "-b"}
	_, err := shell.Run(ctx, "dpkg-buildpackage", args, shell.RunOpts{
		Dir:    b.SrcRoot(),
		Env:    []string{"DEBIAN_FRONTEND=noninteractive"},
		Stream: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("dpkg-buildpackage failed: %w", err)
	}
	b.AdvanceState(targets.StateNativeBuildRun)

	// Ubuntu calls its dbgsym packages ddebs; Debian tooling expects
	// plain .deb in the changes file.
	changes, err := filepath.Glob(filepath.Join(b.PkgRoot(), "*.changes"))
	if err != nil {
		return err
	}
	for _, name := range changes {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		patched := strings.ReplaceAll(string(data), ".ddeb", ".deb")
		if err := os.WriteFile(name, []byte(patched), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type buildMetadata struct {
	targets.ArtifactMetadata
	InstallRefs []string                   `json:"installrefs"`
	Contents    map[string]artifactContent `json:"contents"`
	Repository  string                     `json:"repository"`
}

type artifactContent struct {
	Type     string `json:"type"`
	Encoding string `json:"encoding"`
	Suffix   string `json:"suffix"`
}

func (b *Build) collectArtifacts() error {
	log := logger.Logger()
	contents := make(map[string]artifactContent)

	entries, err := os.ReadDir(b.PkgRoot())
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		suffix := filepath.Ext(name)
		outputName := name
		mime := "text/plain"
		switch suffix {
		case ".ddeb":
			outputName = strings.TrimSuffix(name, ".ddeb") + ".deb"
			mime = "application/vnd.debian.binary-package"
		case ".deb":
			mime = "application/vnd.debian.binary-package"
		case ".changes", ".buildinfo":
		default:
			continue
		}
		dest := filepath.Join(b.OutputRoot(), outputName)
		if err := copyFile(filepath.Join(b.PkgRoot(), name), dest); err != nil {
			return err
		}
		b.AddArtifact(dest)
		contents[outputName] = artifactContent{
			Type:     mime,
			Encoding: "identity",
			Suffix:   suffix,
		}
		log.Debugf("collected %s", outputName)
	}

	meta := buildMetadata{
		ArtifactMetadata: targets.NewArtifactMetadata(
			b.RootPackage(), b.target, b.Revision(), b.Subdist()),
		InstallRefs: []string{
			fmt.Sprintf("%s=%s", b.RootPackage().Name, b.rootVersion()),
		},
		Contents:   contents,
		Repository: "apt",
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	dest := filepath.Join(b.OutputRoot(), "build-metadata.json")
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	b.AddArtifact(dest)
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode().Perm())
}
