package rpm

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

// Build lays out an rpmbuild top directory under the source root,
// generates a spec file whose build sections invoke the staged stage
// scripts, and drives rpmbuild over it.
type Build struct {
	*targets.CommonBuild
	target *Target
}

func (b *Build) RelPath(p string, rel packages.Location, pkg *packages.Package) string {
	switch rel {
	case packages.LocSourceRoot:
		return p
	case packages.LocPkgSource:
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
	return path.Join("BUILD", pkg.Name)
}

func (b *Build) HelpersRootRel() string { return "SOURCES/helpers" }

func (b *Build) TarballRootRel() string { return "SOURCES" }

func (b *Build) PatchesRootRel() string { return "SOURCES" }

func (b *Build) TarballName(pkg *packages.Package) string {
	root := b.RootPackage()
	return fmt.Sprintf("%s_%s.orig-%s{part}.tar{comp}",
		root.Name, root.PrettyVersion, pkg.Name)
}

func (b *Build) imageRootRel(rel packages.Location) string {
	return b.RelPath(path.Join("BUILDROOT", b.RootPackage().Name), rel, nil)
}

// filesManifest is the accumulated %files list, one absolute path per
// line, shared across packages.
func (b *Build) filesManifest(rel packages.Location) string {
	return path.Join(b.TempRoot(rel), "files.list")
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
	manifest := b.filesManifest(packages.LocPkgBuild)

	var sb strings.Builder
	sb.WriteString(trim)
	fmt.Fprintf(&sb, "%s -v --files-from=\"%s/install.list\" \"%s/\" \"%s/\"\n",
		copyTree, tmpDir, installDir, imageRoot)
	// rpm wants directories marked %dir in the manifest.
	fmt.Fprintf(&sb, `while IFS= read -r entry; do
    if [ -d "%s/${entry}" ] && [ ! -L "%s/${entry}" ]; then
        echo "%%dir /${entry}" >> "%s"
    else
        echo "/${entry}" >> "%s"
    fi
done < "%s/install.list"
`,
		installDir, installDir, manifest, manifest, tmpDir)
	return sb.String(), nil
}

func (b *Build) Prepare() error {
	for _, dir := range []string{
		"SPECS", "SOURCES", "BUILD", "RPMS", "SRPMS",
		path.Join("BUILDROOT", b.RootPackage().Name),
	} {
		if err := os.MkdirAll(filepath.Join(b.SrcRoot(), filepath.FromSlash(dir)), 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (b *Build) Package(ctx context.Context) error {
	if err := b.applyPatches(ctx); err != nil {
		return err
	}
	if err := b.writeSpec(); err != nil {
		return err
	}
	if err := b.rpmbuild(ctx); err != nil {
		return err
	}
	return b.collectArtifacts()
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

func (b *Build) specName() string {
	return b.RootPackage().Name + ".spec"
}

func (b *Build) writeSpec() error {
	root := b.RootPackage()

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

	var sb strings.Builder

	fmt.Fprintf(&sb, "Name: %s\n", root.Name)
	fmt.Fprintf(&sb, "Version: %s\n", specVersion(root.PrettyVersion))
	release := b.Revision()
	if b.Subdist() != "" {
		release += "~" + b.Subdist()
	}
	fmt.Fprintf(&sb, "Release: %s%%{?dist}\n", release)
	fmt.Fprintf(&sb, "Summary: %s\n", summaryLine(root))
	license := root.License
	if license == "" {
		license = "Proprietary"
	}
	fmt.Fprintf(&sb, "License: %s\n", license)
	if root.URL != "" {
		fmt.Fprintf(&sb, "URL: %s\n", root.URL)
	}
	if root.Group != "" {
		fmt.Fprintf(&sb, "Group: %s\n", root.Group)
	}
	sb.WriteString("\nBuildRequires: bash\n")
	for _, dep := range b.SystemDeps(true) {
		fmt.Fprintf(&sb, "BuildRequires: %s\n", dep.SystemName)
	}
	for _, dep := range b.SystemDeps(false) {
		fmt.Fprintf(&sb, "Requires: %s\n", dep.SystemName)
	}
	sb.WriteString("\n")

	sourceNo := 0
	for _, pkg := range b.Bundled() {
		for _, tarball := range b.TarballsFor(pkg) {
			fmt.Fprintf(&sb, "Source%d: %s\n", sourceNo, tarball)
			sourceNo++
		}
	}
	for i, patch := range b.Patches() {
		fmt.Fprintf(&sb, "Patch%d: %s\n", i, patch)
	}

	fmt.Fprintf(&sb, "\n%%description\n%s\n\n", root.Description)

	if privateLibs := b.privateLibsPattern(); privateLibs != "" {
		fmt.Fprintf(&sb, "%%global _privatelibs %s\n", privateLibs)
		sb.WriteString(`%global __provides_exclude ^.*\.so(\..*)?$
%global __requires_exclude ^(%{_privatelibs}|(/usr)?/bin/.*)$
`)
	}
	sb.WriteString("%define __python python3\n")
	sb.WriteString("%define debug_package %{nil}\n\n")

	// Sources are unpacked and patched before rpmbuild runs, so %prep
	// has nothing left to do. Every section first climbs from the
	// default BUILD working directory back to the top directory, where
	// stage script invocations are anchored.
	sb.WriteString("%prep\n\n")
	fmt.Fprintf(&sb, "%%build\ncd \"%%{_topdir}\"\n%s\n%s\n%s\n\n",
		configure, build, buildInstall)
	fmt.Fprintf(&sb, "%%install\ncd \"%%{_topdir}\"\nrm -f \"%s\"\ntouch \"%s\"\n%s\n\n",
		b.filesManifest(packages.LocSourceRoot),
		b.filesManifest(packages.LocSourceRoot),
		install)
	fmt.Fprintf(&sb, "%%files -f %%{_topdir}/%s\n\n", b.filesManifest(packages.LocSourceRoot))

	fmt.Fprintf(&sb, "%%changelog\n* %s %s %s-%s\n- New version.\n",
		time.Now().UTC().Format("Mon Jan 02 2006"),
		maintainer, root.PrettyVersion, b.Revision())

	return os.WriteFile(
		filepath.Join(b.SrcRoot(), "SPECS", b.specName()),
		[]byte(sb.String()), 0o644)
}

// specVersion makes a version acceptable to the rpm Version tag,
// which forbids dashes.
func specVersion(version string) string {
	return strings.ReplaceAll(version, "-", ".")
}

func summaryLine(root *packages.Package) string {
	summary := root.Title
	if summary == "" {
		summary, _, _ = strings.Cut(root.Description, "\n")
	}
	return summary
}

func (b *Build) privateLibsPattern() string {
	var libs []string
	seen := make(map[string]bool)
	for _, pkg := range b.Installable() {
		if pkg.Scripts == nil {
			continue
		}
		for _, lib := range pkg.Scripts.PrivateLibraries(pkg) {
			if !seen[lib] {
				seen[lib] = true
				libs = append(libs, lib)
			}
		}
	}
	return strings.Join(libs, "|")
}

func (b *Build) rpmbuild(ctx context.Context) error {
	imageRoot := filepath.Join(b.SrcRoot(),
		filepath.FromSlash(b.imageRootRel(packages.LocSourceRoot)))
	args := []string{
		b.specName(),
		"--define=%_topdir " + b.SrcRoot(),
		"--buildroot=" + imageRoot,
		"--verbose",
		"-bb",
	}
	_, err := shell.Run(ctx, "rpmbuild", args, shell.RunOpts{
		Dir:    filepath.Join(b.SrcRoot(), "SPECS"),
		Stream: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("rpmbuild failed: %w", err)
	}
	b.AdvanceState(targets.StateNativeBuildRun)
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

	globs := []string{
		filepath.Join(b.SrcRoot(), "RPMS", "*", "*.rpm"),
		filepath.Join(b.SrcRoot(), "SRPMS", "*.rpm"),
	}
	for _, pattern := range globs {
		rpms, err := filepath.Glob(pattern)
		if err != nil {
			return err
		}
		for _, rpm := range rpms {
			name := filepath.Base(rpm)
			dest := filepath.Join(b.OutputRoot(), name)
			if err := copyFile(rpm, dest); err != nil {
				return err
			}
			b.AddArtifact(dest)
			contents[name] = artifactContent{
				Type:     "application/x-rpm",
				Encoding: "identity",
				Suffix:   ".rpm",
			}
			log.Debugf("collected %s", name)
		}
	}

	root := b.RootPackage()
	meta := buildMetadata{
		ArtifactMetadata: targets.NewArtifactMetadata(
			root, b.target, b.Revision(), b.Subdist()),
		InstallRefs: []string{
			fmt.Sprintf("%s-%s-%s",
				root.Name, specVersion(root.PrettyVersion), b.Revision()),
		},
		Contents:   contents,
		Repository: "yum",
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
