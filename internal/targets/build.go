package targets

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/sources"
	"github.com/metaforge-build/metaforge/internal/utils/logger"
	"github.com/metaforge-build/metaforge/internal/utils/shell"
)

// BuildState tracks the linear stage pipeline of a packaging run.
// There is no rollback; a failed run leaves the work tree in the
// state it reached.
type BuildState int

const (
	StateInit BuildState = iota
	StateToolsStaged
	StateTarballsStaged
	StateSourcesUnpacked
	StatePatchesStaged
	StateStageScriptsWritten
	StateNativeBuildRun
	StatePackaged
)

// Driver is the per-target half of a build: it knows the native
// source tree layout and how to run the native packaging tool.
type Driver interface {
	// RelPath re-anchors a source-root-relative slash path to rel.
	// The fsroot location yields an absolute path.
	RelPath(p string, rel packages.Location, pkg *packages.Package) string
	// SourceDirRel is the package source directory relative to the
	// source root.
	SourceDirRel(pkg *packages.Package) string
	// HelpersRootRel, TarballRootRel and PatchesRootRel locate the
	// helper, tarball and patch staging directories relative to the
	// source root. TarballRootRel may climb out of it.
	HelpersRootRel() string
	TarballRootRel() string
	PatchesRootRel() string
	// TarballName is the source tarball name template for a package,
	// with {part} and {comp} placeholders.
	TarballName(pkg *packages.Package) string
	// PackageInstallScript is the install stage fragment for one
	// package, staging its trimmed file set the native way.
	PackageInstallScript(pkg *packages.Package) (string, error)

	// Prepare creates the native layout beneath the source root.
	Prepare() error
	// Package runs the native build and collects artifacts.
	Package(ctx context.Context) error
}

// CommonBuild is the shared packaging orchestrator. Target builds
// embed it and act as its Driver. It implements packages.BuildEnv for
// stage script generation.
type CommonBuild struct {
	target Target
	driver Driver
	req    *BuildRequest

	root        *packages.Package
	bundled     []*packages.Package
	installable []*packages.Package
	buildOnly   map[string]bool

	state      BuildState
	workRoot   string
	pkgRoot    string
	srcRoot    string
	outputRoot string
	revision   string

	helpers  map[string]stagedHelper
	tarballs map[string][]string
	patches  []string

	artifacts []string
}

type stagedHelper struct {
	relPath     string
	interpreter string
}

// NewCommon wires a target build around its driver. Deps and
// BuildDeps of the request must already be in build order with the
// root package last.
func NewCommon(req *BuildRequest, target Target, driver Driver) *CommonBuild {
	b := &CommonBuild{
		target:    target,
		driver:    driver,
		req:       req,
		root:      req.Root,
		buildOnly: make(map[string]bool),
		helpers:   make(map[string]stagedHelper),
		tarballs:  make(map[string][]string),
		revision:  req.Revision,
	}
	if b.revision == "" {
		b.revision = "1"
	}

	inRuntime := make(map[string]bool, len(req.Deps))
	for _, pkg := range req.Deps {
		inRuntime[pkg.Name] = true
	}
	for _, pkg := range req.BuildDeps {
		if pkg.IsSystem() {
			continue
		}
		b.bundled = append(b.bundled, pkg)
		if !inRuntime[pkg.Name] {
			b.buildOnly[pkg.Name] = true
		} else {
			b.installable = append(b.installable, pkg)
		}
	}
	return b
}

func (b *CommonBuild) Target() Target                   { return b.target }
func (b *CommonBuild) Request() *BuildRequest           { return b.req }
func (b *CommonBuild) RootPackage() *packages.Package   { return b.root }
func (b *CommonBuild) Bundled() []*packages.Package     { return b.bundled }
func (b *CommonBuild) Installable() []*packages.Package { return b.installable }
func (b *CommonBuild) IsBuildOnly(pkg *packages.Package) bool {
	return b.buildOnly[pkg.Name]
}

// SystemDeps returns the system packages of the runtime or build
// closure.
func (b *CommonBuild) SystemDeps(build bool) []*packages.Package {
	deps := b.req.Deps
	if build {
		deps = b.req.BuildDeps
	}
	var out []*packages.Package
	for _, pkg := range deps {
		if pkg.IsSystem() {
			out = append(out, pkg)
		}
	}
	return out
}

func (b *CommonBuild) State() BuildState   { return b.state }
func (b *CommonBuild) WorkRoot() string    { return b.workRoot }
func (b *CommonBuild) PkgRoot() string     { return b.pkgRoot }
func (b *CommonBuild) SrcRoot() string     { return b.srcRoot }
func (b *CommonBuild) OutputRoot() string  { return b.outputRoot }
func (b *CommonBuild) Revision() string    { return b.revision }
func (b *CommonBuild) Subdist() string     { return b.req.Subdist }
func (b *CommonBuild) Patches() []string   { return b.patches }
func (b *CommonBuild) Artifacts() []string { return b.artifacts }

// TarballsFor lists the staged tarball basenames of a package.
func (b *CommonBuild) TarballsFor(pkg *packages.Package) []string {
	return b.tarballs[pkg.Name]
}

func (b *CommonBuild) AddArtifact(p string) {
	b.artifacts = append(b.artifacts, p)
}

// AdvanceState moves the pipeline state forward; it never moves
// back. Drivers report script and native build completion through it.
func (b *CommonBuild) AdvanceState(s BuildState) {
	if s > b.state {
		b.state = s
	}
}

// Run drives the full pipeline. The work tree is removed afterwards
// unless the request asked to keep it.
func (b *CommonBuild) Run(ctx context.Context) error {
	log := logger.Logger()

	if err := b.prepareLayout(); err != nil {
		return err
	}
	if !b.req.KeepWork {
		defer os.RemoveAll(b.workRoot)
	} else {
		defer log.Infof("work tree kept at %s", b.workRoot)
	}

	log.Infof("building %s for %s in %s",
		b.root.UniqueName(), b.target.Name(), b.workRoot)

	if err := b.stageTools(); err != nil {
		return err
	}
	b.AdvanceState(StateToolsStaged)

	if err := b.stageTarballs(ctx); err != nil {
		return err
	}
	b.AdvanceState(StateTarballsStaged)

	if err := b.unpackSources(ctx); err != nil {
		return err
	}
	b.AdvanceState(StateSourcesUnpacked)

	if err := b.stagePatches(); err != nil {
		return err
	}
	b.AdvanceState(StatePatchesStaged)

	if err := b.driver.Package(ctx); err != nil {
		return err
	}
	b.AdvanceState(StatePackaged)

	log.Infof("artifacts written to %s", b.outputRoot)
	return nil
}

func (b *CommonBuild) prepareLayout() error {
	b.workRoot = b.req.WorkDir
	if b.workRoot == "" {
		b.workRoot = filepath.Join(os.TempDir(),
			"metaforge-"+uuid.NewString()[:8])
	}
	b.pkgRoot = filepath.Join(b.workRoot, b.root.Name)
	b.srcRoot = filepath.Join(b.pkgRoot, b.root.Name)
	b.outputRoot = b.req.OutputDir
	if b.outputRoot == "" {
		b.outputRoot = "artifacts"
	}

	for _, dir := range []string{b.srcRoot, b.outputRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	for _, pkg := range b.bundled {
		for _, loc := range []string{"build", "tmp", "install"} {
			dir := filepath.Join(b.srcRoot, artifactsDir, loc, pkg.Name)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}
	return b.driver.Prepare()
}

const artifactsDir = "_artifacts"

// --- packages.BuildEnv ---

func (b *CommonBuild) SourceDir(pkg *packages.Package, rel packages.Location) string {
	return b.driver.RelPath(b.driver.SourceDirRel(pkg), rel, pkg)
}

func (b *CommonBuild) BuildDir(pkg *packages.Package, rel packages.Location) string {
	return b.driver.RelPath(path.Join(artifactsDir, "build", pkg.Name), rel, pkg)
}

func (b *CommonBuild) BuildInstallDir(pkg *packages.Package, rel packages.Location) string {
	return b.driver.RelPath(path.Join(artifactsDir, "install", pkg.Name), rel, pkg)
}

func (b *CommonBuild) TempDir(pkg *packages.Package, rel packages.Location) string {
	return b.driver.RelPath(path.Join(artifactsDir, "tmp", pkg.Name), rel, pkg)
}

// TempRoot is the shared scratch root of the run.
func (b *CommonBuild) TempRoot(rel packages.Location) string {
	return b.driver.RelPath(path.Join(artifactsDir, "tmp"), rel, nil)
}

func (b *CommonBuild) InstallPrefix() string {
	return b.target.InstallPrefix(b.root)
}

func (b *CommonBuild) InstallPath(pkg *packages.Package, aspect packages.InstallAspect) string {
	return b.target.InstallPath(b.root, pkg, aspect)
}

func (b *CommonBuild) ExeSuffix() string { return b.target.ExeSuffix() }

func (b *CommonBuild) Parallelism() int {
	if b.req.Jobs > 0 {
		return b.req.Jobs
	}
	return runtime.NumCPU()
}

// ToolCommand resolves a logical tool to an invocable command:
// staged helpers first, then target system tools, then PATH.
func (b *CommonBuild) ToolCommand(name string, rel packages.Location) (string, error) {
	if h, ok := b.helpers[name]; ok {
		inv := b.driver.RelPath(h.relPath, rel, nil)
		if h.interpreter != "" {
			interp, err := b.ToolCommand(h.interpreter, rel)
			if err != nil {
				return "", err
			}
			inv = interp + " " + inv
		}
		return inv, nil
	}
	if cmd, ok := b.target.SystemTools()[name]; ok {
		return cmd, nil
	}
	if _, err := shell.LookPath(name); err == nil {
		return name, nil
	}
	return "", &ToolResolutionError{Tool: name}
}

// WriteHelper stages a generated helper script and returns its
// invocation relative to rel.
func (b *CommonBuild) WriteHelper(name, text string, rel packages.Location) (string, error) {
	relPath, err := b.writeHelperFile(name, text)
	if err != nil {
		return "", err
	}
	inv := b.driver.RelPath(relPath, rel, nil)
	if interp := interpreterFor(name); interp != "" {
		cmd, err := b.ToolCommand(interp, rel)
		if err != nil {
			return "", err
		}
		inv = cmd + " " + inv
	}
	return inv, nil
}

func (b *CommonBuild) writeHelperFile(name, text string) (string, error) {
	dir := filepath.Join(b.srcRoot, filepath.FromSlash(b.driver.HelpersRootRel()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0o755); err != nil {
		return "", err
	}
	return path.Join(b.driver.HelpersRootRel(), name), nil
}

// --- pipeline steps ---

func (b *CommonBuild) stageTools() error {
	for name, file := range builtinHelpers {
		text, err := readBuiltinHelper(file)
		if err != nil {
			return err
		}
		if err := b.stageHelper(name, file, text); err != nil {
			return err
		}
	}
	for _, pkg := range b.bundled {
		if pkg.Scripts == nil {
			continue
		}
		for name, file := range pkg.Scripts.BuildTools(pkg) {
			data, err := os.ReadFile(filepath.Join(pkg.RecipeDir, file))
			if err != nil {
				return fmt.Errorf("build tool %s of %s: %w", name, pkg.Name, err)
			}
			if err := b.stageHelper(name, filepath.Base(file), string(data)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *CommonBuild) stageHelper(logical, filename, text string) error {
	relPath, err := b.writeHelperFile(filename, text)
	if err != nil {
		return err
	}
	b.helpers[logical] = stagedHelper{
		relPath:     relPath,
		interpreter: interpreterFor(filename),
	}
	return nil
}

func (b *CommonBuild) stageTarballs(ctx context.Context) error {
	log := logger.Logger()
	dest := filepath.Join(b.srcRoot, filepath.FromSlash(b.driver.TarballRootRel()))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	for _, pkg := range b.bundled {
		for i, src := range pkg.Sources {
			tpl := b.driver.TarballName(pkg)
			if i > 0 {
				tpl = strings.Replace(tpl, "{part}",
					fmt.Sprintf("-%d{part}", i), 1)
			}
			log.Debugf("staging source %s for %s", src.Name(), pkg.UniqueName())
			tarball, err := src.Tarball(ctx, pkg.UniqueName(), tpl, dest)
			if err != nil {
				return fmt.Errorf("staging sources of %s: %w", pkg.Name, err)
			}
			b.tarballs[pkg.Name] = append(b.tarballs[pkg.Name],
				filepath.Base(tarball))
		}
	}
	return nil
}

func (b *CommonBuild) unpackSources(ctx context.Context) error {
	tarballRoot := filepath.Join(b.srcRoot, filepath.FromSlash(b.driver.TarballRootRel()))
	for _, pkg := range b.bundled {
		dest := filepath.Join(b.srcRoot,
			filepath.FromSlash(b.driver.SourceDirRel(pkg)))
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return err
		}
		for _, name := range b.tarballs[pkg.Name] {
			archive := filepath.Join(tarballRoot, name)
			if err := sources.Unpack(archive, dest, true); err != nil {
				return fmt.Errorf("unpacking %s: %w", name, err)
			}
		}
	}
	return nil
}

func (b *CommonBuild) stagePatches() error {
	log := logger.Logger()
	patches, err := b.root.Patches()
	if err != nil {
		return err
	}
	if len(patches) == 0 {
		return nil
	}

	dir := filepath.Join(b.srcRoot, filepath.FromSlash(b.driver.PatchesRootRel()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	seen := make(map[string]bool)
	idx := 0
	for _, pkg := range b.bundled {
		for _, patch := range patches[pkg.Name] {
			idx++
			name := fmt.Sprintf("%04d-%s", idx, pkg.Name)
			if patch.Name != "" {
				name += "-" + patch.Name
			}
			name += ".patch"
			diff := rewritePatchPaths(patch.Diff, b.driver.SourceDirRel(pkg))
			if err := os.WriteFile(filepath.Join(dir, name), []byte(diff), 0o644); err != nil {
				return err
			}
			b.patches = append(b.patches, name)
		}
		seen[pkg.Name] = true
	}
	for pkgName := range patches {
		if !seen[pkgName] {
			log.Warnf("patches for %s do not match any bundled package", pkgName)
		}
	}
	return nil
}

// rewritePatchPaths re-anchors unified diff headers so a -p1 apply
// from the source root hits the nested package source directory.
func rewritePatchPaths(diff, srcDirRel string) string {
	if srcDirRel == "" || srcDirRel == "." {
		return diff
	}
	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "--- a/"):
			lines[i] = "--- a/" + srcDirRel + "/" + line[len("--- a/"):]
		case strings.HasPrefix(line, "+++ b/"):
			lines[i] = "+++ b/" + srcDirRel + "/" + line[len("+++ b/"):]
		case strings.HasPrefix(line, "diff --git a/"):
			rest := line[len("diff --git a/"):]
			if j := strings.Index(rest, " b/"); j >= 0 {
				lines[i] = fmt.Sprintf("diff --git a/%s/%s b/%s/%s",
					srcDirRel, rest[:j], srcDirRel, rest[j+len(" b/"):])
			}
		}
	}
	return strings.Join(lines, "\n")
}

// --- stage script composition ---

// StageScriptText composes the shell fragment of one pipeline stage
// across the bundled packages in build order. Each non-empty package
// fragment runs bracketed inside its build directory.
func (b *CommonBuild) StageScriptText(stage packages.Stage, installableOnly bool) (string, error) {
	pkgs := b.bundled
	if installableOnly {
		pkgs = b.installable
	}
	var parts []string
	for _, pkg := range pkgs {
		var frag string
		var err error
		if stage == packages.StageInstall {
			frag, err = b.driver.PackageInstallScript(pkg)
		} else if pkg.Scripts != nil {
			frag, err = pkg.Scripts.StageScript(b, pkg, stage)
		}
		if err != nil {
			return "", fmt.Errorf("%s stage of %s: %w", stage, pkg.Name, err)
		}
		if strings.TrimSpace(frag) == "" {
			continue
		}
		buildDir := b.BuildDir(pkg, packages.LocSourceRoot)
		parts = append(parts, fmt.Sprintf(
			"### %s\npushd \"%s\" >/dev/null\n%s\npopd >/dev/null",
			pkg.UniqueName(), buildDir, strings.TrimRight(frag, "\n")))
	}
	return strings.Join(parts, "\n\n"), nil
}

// WriteStageScript stages the composite script of a stage as an
// executable helper and returns its invocation relative to rel.
func (b *CommonBuild) WriteStageScript(name string, stage packages.Stage, installableOnly bool, rel packages.Location) (string, error) {
	text, err := b.StageScriptText(stage, installableOnly)
	if err != nil {
		return "", err
	}
	script := "#!/bin/bash\nset -ex\n\n" + text + "\n"
	inv, err := b.WriteHelper(fmt.Sprintf("_%s.sh", name), script, rel)
	if err != nil {
		return "", err
	}
	b.AdvanceState(StateStageScriptsWritten)
	return inv, nil
}

// TrimInstallScript emits the shared install-trimming fragment for a
// package: it materializes the three generated lists and writes the
// final manifest to <tmpdir>/install.list. Drivers append their own
// consumption of the manifest.
func (b *CommonBuild) TrimInstallScript(pkg *packages.Package) (string, error) {
	frag := func(stage packages.Stage) (string, error) {
		if pkg.Scripts == nil {
			return ":", nil
		}
		s, err := pkg.Scripts.StageScript(b, pkg, stage)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(s) == "" {
			s = ":"
		}
		return strings.TrimRight(s, "\n"), nil
	}

	instList, err := frag(packages.StageInstallList)
	if err != nil {
		return "", err
	}
	noInstList, err := frag(packages.StageNoInstallList)
	if err != nil {
		return "", err
	}
	ignoreList, err := frag(packages.StageIgnoreList)
	if err != nil {
		return "", err
	}
	trim, err := b.ToolCommand("trim-install", packages.LocPkgBuild)
	if err != nil {
		return "", err
	}

	tmpDir := b.TempDir(pkg, packages.LocPkgBuild)
	installDir := b.BuildInstallDir(pkg, packages.LocPkgBuild)

	var sb strings.Builder
	fmt.Fprintf(&sb, "{\n%s\n} > \"%s/install\"\n", instList, tmpDir)
	fmt.Fprintf(&sb, "{\n%s\n} > \"%s/not-installed\"\n", noInstList, tmpDir)
	fmt.Fprintf(&sb, "{\n%s\n} > \"%s/ignored\"\n", ignoreList, tmpDir)
	fmt.Fprintf(&sb,
		"%s \"%s/install\" \"%s/not-installed\" \"%s/ignored\" \"%s\" > \"%s/install.list\"\n",
		trim, tmpDir, tmpDir, tmpDir, installDir, tmpDir)
	return sb.String(), nil
}
