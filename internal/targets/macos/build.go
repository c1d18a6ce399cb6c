package macos

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// Build drives a native macOS installer build: the staged sources are
// built into a framework-bundle image, the image and its support
// files become pkgbuild components, and productbuild wraps them into
// the final distribution package.
type Build struct {
	*targets.CommonBuild
	target *Target
}

func (b *Build) RelPath(p string, rel packages.Location, pkg *packages.Package) string {
	switch rel {
	case packages.LocSourceRoot:
		return p
	case packages.LocPkgSource:
		if pkg != nil && pkg.Name == b.RootPackage().Name {
			return p
		}
		return path.Join("..", "..", p)
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

func (b *Build) SourceDirRel(pkg *packages.Package) string {
	if pkg.Name == b.RootPackage().Name {
		return "."
	}
	return path.Join("thirdparty", pkg.Name)
}

func (b *Build) HelpersRootRel() string { return "build/helpers" }

func (b *Build) TarballRootRel() string { return "_artifacts/tmp/tarballs" }

func (b *Build) PatchesRootRel() string { return b.TarballRootRel() }

func (b *Build) TarballName(pkg *packages.Package) string {
	root := b.RootPackage()
	return fmt.Sprintf("%s_%s.orig-%s{part}.tar{comp}",
		root.Name, root.PrettyVersion, pkg.Name)
}

func (b *Build) imageRootRel(rel packages.Location) string {
	return path.Join(b.TempRoot(rel), "buildroot", b.RootPackage().Name)
}

func (b *Build) installerRootRel(rel packages.Location) string {
	return path.Join(b.TempRoot(rel), "installer")
}

func (b *Build) PackageInstallScript(pkg *packages.Package) (string, error) {
	trim, err := b.TrimInstallScript(pkg)
	if err != nil {
		return "", err
	}
	copyTree, err := b.ToolCommand("copy-tree", packages.LocPkgBuild)
	if err != nil {
		return "", err
	}
	tmpDir := b.TempDir(pkg, packages.LocPkgBuild)
	installDir := b.BuildInstallDir(pkg, packages.LocPkgBuild)
	imageRoot := b.imageRootRel(packages.LocPkgBuild)

	return trim + fmt.Sprintf(
		"%s -v --files-from=\"%s/install.list\" \"%s/\" \"%s/\"\n",
		copyTree, tmpDir, installDir, imageRoot), nil
}

func (b *Build) Prepare() error {
	for _, rel := range []string{
		b.imageRootRel(packages.LocSourceRoot),
		path.Join(b.installerRootRel(packages.LocSourceRoot), "Common"),
		path.Join(b.installerRootRel(packages.LocSourceRoot), "Scripts"),
	} {
		if err := os.MkdirAll(filepath.Join(b.SrcRoot(), filepath.FromSlash(rel)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (b *Build) Package(ctx context.Context) error {
	if err := b.applyPatches(ctx); err != nil {
		return err
	}
	if err := b.writeMakefile(); err != nil {
		return err
	}

	make, err := b.ToolCommand("make", packages.LocSourceRoot)
	if err != nil {
		return err
	}
	if _, err := shell.Run(ctx, make, nil, shell.RunOpts{
		Dir:    b.SrcRoot(),
		Stream: os.Stdout,
	}); err != nil {
		return fmt.Errorf("native build failed: %w", err)
	}
	b.AdvanceState(targets.StateNativeBuildRun)

	if err := b.fixupImage(ctx); err != nil {
		return err
	}
	return b.packageInstaller(ctx)
}

func (b *Build) applyPatches(ctx context.Context) error {
	patchesRoot := filepath.Join(b.SrcRoot(), filepath.FromSlash(b.PatchesRootRel()))
	for _, name := range b.Patches() {
		logger.Logger().Debugf("applying %s", name)
		args := []string{"-p1", "-i", filepath.Join(patchesRoot, name)}
		if _, err := shell.Run(ctx, "patch", args, shell.RunOpts{Dir: b.SrcRoot()}); err != nil {
			return fmt.Errorf("applying %s: %w", name, err)
		}
	}
	return nil
}

func (b *Build) writeMakefile() error {
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
	bash, err := b.ToolCommand("bash", packages.LocSourceRoot)
	if err != nil {
		return err
	}

	tmpRoot := b.TempRoot(packages.LocSourceRoot)

	makefile := fmt.Sprintf(`.PHONY: build

export SHELL = %s

%s/stamp/build:
	%s
	%s
	%s
	%s
	mkdir -p "%s/stamp"
	touch "%s/stamp/build"

build: %s/stamp/build
`,
		bash,
		tmpRoot,
		configure, build, buildInstall, install,
		tmpRoot, tmpRoot, tmpRoot)

	return os.WriteFile(filepath.Join(b.SrcRoot(), "Makefile"), []byte(makefile), 0o644)
}

func (b *Build) imageRootAbs() string {
	return filepath.Join(b.SrcRoot(),
		filepath.FromSlash(b.imageRootRel(packages.LocSourceRoot)))
}

// fixupImage makes every Mach-O file in the image relocatable and
// checks its dynamic linkage.
func (b *Build) fixupImage(ctx context.Context) error {
	imageRoot := b.imageRootAbs()
	return filepath.WalkDir(imageRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		machO, err := isMachO(p)
		if err != nil || !machO {
			return err
		}
		rel, err := filepath.Rel(imageRoot, p)
		if err != nil {
			return err
		}
		binRel := filepath.ToSlash(rel)
		if err := b.fixupRpaths(ctx, imageRoot, binRel); err != nil {
			return err
		}
		return b.verifyShlibs(ctx, imageRoot, binRel)
	})
}

func (b *Build) packageInstaller(ctx context.Context) error {
	root := b.RootPackage()
	ident := identifier(root)
	version := root.PrettyVersion
	installerRoot := filepath.Join(b.SrcRoot(),
		filepath.FromSlash(b.installerRootRel(packages.LocSourceRoot)))

	if err := b.writeCommonTree(installerRoot); err != nil {
		return err
	}

	commonPkg := filepath.Join(installerRoot, title(root)+"-common.pkg")
	if _, err := shell.Run(ctx, "pkgbuild", []string{
		"--root", filepath.Join(installerRoot, "Common"),
		"--identifier", ident + "-common",
		"--version", version,
		"--install-location", "/",
		commonPkg,
	}, shell.RunOpts{Stream: os.Stdout}); err != nil {
		return fmt.Errorf("building common component: %w", err)
	}

	mainPkg := filepath.Join(installerRoot, title(root)+".pkg")
	if _, err := shell.Run(ctx, "pkgbuild", []string{
		"--root", b.imageRootAbs(),
		"--identifier", ident,
		"--scripts", filepath.Join(installerRoot, "Scripts"),
		"--version", version,
		"--install-location", "/",
		mainPkg,
	}, shell.RunOpts{Stream: os.Stdout}); err != nil {
		return fmt.Errorf("building main component: %w", err)
	}

	distribution := filepath.Join(installerRoot, "Distribution.xml")
	if err := b.writeDistribution(distribution); err != nil {
		return err
	}

	suffix := b.Revision()
	if b.Subdist() != "" {
		suffix += "~" + b.Subdist()
	}
	finalName := fmt.Sprintf("%s_%s_%s.pkg", title(root), version, suffix)
	finalPath := filepath.Join(b.OutputRoot(), finalName)

	if _, err := shell.Run(ctx, "productbuild", []string{
		"--package-path", installerRoot,
		"--identifier", ident,
		"--version", version,
		"--distribution", distribution,
		finalPath,
	}, shell.RunOpts{Stream: os.Stdout}); err != nil {
		return fmt.Errorf("building distribution package: %w", err)
	}
	b.AddArtifact(finalPath)

	meta := struct {
		targets.ArtifactMetadata
		InstallRefs []string `json:"installrefs"`
	}{
		ArtifactMetadata: targets.NewArtifactMetadata(
			root, b.target, b.Revision(), b.Subdist()),
		InstallRefs: []string{finalName},
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	metaPath := filepath.Join(b.OutputRoot(), "build-metadata.json")
	if err := os.WriteFile(metaPath, data, 0o644); err != nil {
		return err
	}
	b.AddArtifact(metaPath)
	return nil
}

// writeCommonTree stages the unversioned component: a paths.d entry
// exposing the bundle bin directory on PATH.
func (b *Build) writeCommonTree(installerRoot string) error {
	root := b.RootPackage()
	sysBinDir := b.target.InstallPath(root, root, packages.AspectSystemBin)

	pathsD := filepath.Join(installerRoot, "Common", "etc", "paths.d", identifier(root))
	if err := os.MkdirAll(filepath.Dir(pathsD), 0o755); err != nil {
		return err
	}
	return os.WriteFile(pathsD, []byte(sysBinDir+"\n"), 0o644)
}

func (b *Build) writeDistribution(dest string) error {
	root := b.RootPackage()
	ident := identifier(root)
	version := root.PrettyVersion

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	sb.WriteString(`<installer-gui-script minSpecVersion="1">` + "\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", xmlEscape(title(root)))
	sb.WriteString(`    <options customize="never" rootVolumeOnly="true"/>` + "\n")
	fmt.Fprintf(&sb, "    <pkg-ref id=%q/>\n", ident)
	fmt.Fprintf(&sb, "    <pkg-ref id=%q/>\n", ident+"-common")
	fmt.Fprintf(&sb, "    <choices-outline>\n")
	fmt.Fprintf(&sb, "        <line choice=\"default\">\n")
	fmt.Fprintf(&sb, "            <line choice=%q/>\n", ident)
	fmt.Fprintf(&sb, "            <line choice=%q/>\n", ident+"-common")
	fmt.Fprintf(&sb, "        </line>\n")
	fmt.Fprintf(&sb, "    </choices-outline>\n")
	fmt.Fprintf(&sb, "    <choice id=\"default\"/>\n")
	fmt.Fprintf(&sb, "    <choice id=%q visible=\"false\">\n", ident)
	fmt.Fprintf(&sb, "        <pkg-ref id=%q/>\n", ident)
	fmt.Fprintf(&sb, "    </choice>\n")
	fmt.Fprintf(&sb, "    <choice id=%q visible=\"false\">\n", ident+"-common")
	fmt.Fprintf(&sb, "        <pkg-ref id=%q/>\n", ident+"-common")
	fmt.Fprintf(&sb, "    </choice>\n")
	fmt.Fprintf(&sb, "    <pkg-ref id=%q version=%q onConclusion=\"none\">%s.pkg</pkg-ref>\n",
		ident, version, xmlEscape(title(root)))
	fmt.Fprintf(&sb, "    <pkg-ref id=%q version=%q onConclusion=\"none\">%s-common.pkg</pkg-ref>\n",
		ident+"-common", version, xmlEscape(title(root)))
	sb.WriteString("</installer-gui-script>\n")

	return os.WriteFile(dest, []byte(sb.String()), 0o644)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}
