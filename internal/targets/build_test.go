package targets

import (
	"context"
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/sources"
)

type fakeTarget struct{}

func (fakeTarget) Name() string           { return "fake" }
func (fakeTarget) Ident() string          { return "fake" }
func (fakeTarget) Triple() string         { return "x86_64-unknown-fake" }
func (fakeTarget) Arch() string           { return "x86_64" }
func (fakeTarget) Libc() string           { return "" }
func (fakeTarget) ExeSuffix() string      { return "" }
func (fakeTarget) Capabilities() []string { return nil }
func (fakeTarget) InstallPrefix(root *packages.Package) string {
	return "/opt/" + root.Name
}
func (t fakeTarget) InstallPath(root, pkg *packages.Package, aspect packages.InstallAspect) string {
	return t.InstallPrefix(root) + "/" + string(aspect)
}
func (fakeTarget) PackageRepository() packages.Repository { return nil }
func (fakeTarget) SystemTools() map[string]string {
	return map[string]string{"bash": "/bin/bash"}
}
func (fakeTarget) NewBuild(req *BuildRequest) (Build, error) { return nil, nil }

type fakeDriver struct{}

func (fakeDriver) RelPath(p string, rel packages.Location, pkg *packages.Package) string {
	switch rel {
	case packages.LocPkgBuild:
		return path.Join("..", "..", "..", p)
	default:
		return p
	}
}
func (fakeDriver) SourceDirRel(pkg *packages.Package) string { return "src/" + pkg.Name }
func (fakeDriver) HelpersRootRel() string                    { return "helpers" }
func (fakeDriver) TarballRootRel() string                    { return "tarballs" }
func (fakeDriver) PatchesRootRel() string                    { return "patches" }
func (fakeDriver) TarballName(pkg *packages.Package) string {
	return pkg.Name + "{part}.tar{comp}"
}
func (fakeDriver) PackageInstallScript(pkg *packages.Package) (string, error) {
	return "install_" + pkg.Name, nil
}
func (fakeDriver) Prepare() error                    { return nil }
func (fakeDriver) Package(ctx context.Context) error { return nil }

type fakeScripts struct {
	fragments map[packages.Stage]string
}

func (s *fakeScripts) StageScript(env packages.BuildEnv, pkg *packages.Package, stage packages.Stage) (string, error) {
	return s.fragments[stage], nil
}
func (s *fakeScripts) BuildTools(pkg *packages.Package) map[string]string { return nil }
func (s *fakeScripts) PrivateLibraries(pkg *packages.Package) []string   { return nil }

func bundledPkg(name string, scripts packages.ScriptSource) *packages.Package {
	return &packages.Package{
		Name:          name,
		Version:       "1.0",
		PrettyVersion: "1.0",
		Kind:          packages.KindC,
		Scripts:       scripts,
	}
}

func systemPkg(name string) *packages.Package {
	return &packages.Package{
		Name:          name,
		Version:       "2.0",
		PrettyVersion: "2.0",
		Kind:          packages.KindSystem,
		SystemName:    "lib" + name,
	}
}

func newTestBuild(req *BuildRequest) *CommonBuild {
	return NewCommon(req, fakeTarget{}, fakeDriver{})
}

func TestNewCommonClassification(t *testing.T) {
	root := bundledPkg("app", nil)
	runtimeDep := bundledPkg("libfoo", nil)
	buildOnlyDep := bundledPkg("toolchain", nil)
	sysDep := systemPkg("zlib")

	b := newTestBuild(&BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{sysDep, runtimeDep, root},
		BuildDeps: []*packages.Package{sysDep, buildOnlyDep, runtimeDep, root},
	})

	var bundled []string
	for _, pkg := range b.Bundled() {
		bundled = append(bundled, pkg.Name)
	}
	if got, want := strings.Join(bundled, ","), "toolchain,libfoo,app"; got != want {
		t.Fatalf("bundled = %s, want %s", got, want)
	}

	var installable []string
	for _, pkg := range b.Installable() {
		installable = append(installable, pkg.Name)
	}
	if got, want := strings.Join(installable, ","), "libfoo,app"; got != want {
		t.Fatalf("installable = %s, want %s", got, want)
	}

	if !b.IsBuildOnly(buildOnlyDep) {
		t.Error("toolchain should be build-only")
	}
	if b.IsBuildOnly(runtimeDep) {
		t.Error("libfoo should not be build-only")
	}

	sys := b.SystemDeps(false)
	if len(sys) != 1 || sys[0].SystemName != "libzlib" {
		t.Errorf("SystemDeps(false) = %v", sys)
	}
}

func TestRevisionDefaultsToOne(t *testing.T) {
	root := bundledPkg("app", nil)
	b := newTestBuild(&BuildRequest{Root: root, Deps: []*packages.Package{root}})
	if b.Revision() != "1" {
		t.Fatalf("revision = %q, want 1", b.Revision())
	}
}

func TestStageScriptText(t *testing.T) {
	root := bundledPkg("app", &fakeScripts{fragments: map[packages.Stage]string{
		packages.StageBuild: "make app",
	}})
	dep := bundledPkg("libfoo", &fakeScripts{fragments: map[packages.Stage]string{
		packages.StageBuild: "make libfoo",
	}})
	silent := bundledPkg("quiet", &fakeScripts{fragments: map[packages.Stage]string{}})

	b := newTestBuild(&BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{dep, root},
		BuildDeps: []*packages.Package{dep, silent, root},
	})

	text, err := b.StageScriptText(packages.StageBuild, false)
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(text, "### libfoo-1.0") || !strings.Contains(text, "### app-1.0") {
		t.Errorf("missing package headers:\n%s", text)
	}
	if strings.Contains(text, "quiet") {
		t.Errorf("package with empty fragment should be omitted:\n%s", text)
	}
	if strings.Index(text, "make libfoo") > strings.Index(text, "make app") {
		t.Errorf("fragments out of build order:\n%s", text)
	}
	for _, frag := range []string{"make libfoo", "make app"} {
		if strings.Count(text, frag) != 1 {
			t.Errorf("fragment %q should appear exactly once:\n%s", frag, text)
		}
	}
	if strings.Count(text, "pushd") != strings.Count(text, "popd") {
		t.Errorf("unbalanced pushd/popd:\n%s", text)
	}
}

func TestStageScriptInstallUsesDriver(t *testing.T) {
	root := bundledPkg("app", nil)
	dep := bundledPkg("libfoo", nil)
	buildOnly := bundledPkg("toolchain", nil)

	b := newTestBuild(&BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{dep, root},
		BuildDeps: []*packages.Package{dep, buildOnly, root},
	})

	text, err := b.StageScriptText(packages.StageInstall, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(text, "install_libfoo") || !strings.Contains(text, "install_app") {
		t.Errorf("install fragments missing:\n%s", text)
	}
	if strings.Contains(text, "install_toolchain") {
		t.Errorf("build-only package must not be installed:\n%s", text)
	}
}

func TestToolCommandResolution(t *testing.T) {
	root := bundledPkg("app", nil)
	b := newTestBuild(&BuildRequest{Root: root, Deps: []*packages.Package{root}})

	cmd, err := b.ToolCommand("bash", packages.LocSourceRoot)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "/bin/bash" {
		t.Errorf("bash = %q, want /bin/bash", cmd)
	}

	// sh is not a declared system tool but is always on PATH.
	cmd, err = b.ToolCommand("sh", packages.LocSourceRoot)
	if err != nil {
		t.Fatal(err)
	}
	if cmd != "sh" {
		t.Errorf("sh = %q, want sh", cmd)
	}

	_, err = b.ToolCommand("definitely-not-a-real-tool", packages.LocSourceRoot)
	var toolErr *ToolResolutionError
	if !errors.As(err, &toolErr) {
		t.Fatalf("want ToolResolutionError, got %v", err)
	}
	if toolErr.Tool != "definitely-not-a-real-tool" {
		t.Errorf("Tool = %q", toolErr.Tool)
	}
}

// pipelineDriver composes the build stage script during Package so
// the full Run pipeline can be exercised without a native toolchain.
type pipelineDriver struct {
	fakeDriver
	b           *CommonBuild
	buildScript string
}

func (d *pipelineDriver) Package(ctx context.Context) error {
	text, err := d.b.StageScriptText(packages.StageBuild, false)
	if err != nil {
		return err
	}
	d.buildScript = text
	_, err = d.b.WriteStageScript("build", packages.StageBuild, false, packages.LocSourceRoot)
	return err
}

func writeSourceTree(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tree")
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRunStagesSourcesAndPatches(t *testing.T) {
	recipeDir := t.TempDir()
	patch := strings.Join([]string{
		"--- a/main.c",
		"+++ b/main.c",
		"@@ -1 +1 @@",
		"-old",
		"+new",
		"",
	}, "\n")
	if err := os.MkdirAll(filepath.Join(recipeDir, "patches"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(recipeDir, "patches", "libfoo__fix.patch"),
		[]byte(patch), 0o644); err != nil {
		t.Fatal(err)
	}

	root := bundledPkg("app", &fakeScripts{fragments: map[packages.Stage]string{
		packages.StageBuild: "make app",
	}})
	root.RecipeDir = recipeDir
	root.Sources = []sources.Source{sources.NewLocalSource(
		writeSourceTree(t, map[string]string{"go.mod": "module app\n"}))}
	dep := bundledPkg("libfoo", &fakeScripts{fragments: map[packages.Stage]string{
		packages.StageBuild: "make libfoo",
	}})
	dep.Sources = []sources.Source{sources.NewLocalSource(
		writeSourceTree(t, map[string]string{"main.c": "old\n"}))}

	driver := &pipelineDriver{}
	b := NewCommon(&BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{dep, root},
		BuildDeps: []*packages.Package{dep, root},
		WorkDir:   t.TempDir(),
		OutputDir: filepath.Join(t.TempDir(), "out"),
		KeepWork:  true,
	}, fakeTarget{}, driver)
	driver.b = b

	if err := b.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := b.TarballsFor(dep); len(got) != 1 || got[0] != "libfoo.tar.gz" {
		t.Errorf("staged tarballs = %v", got)
	}
	if _, err := os.Stat(filepath.Join(b.SrcRoot(), "tarballs", "libfoo.tar.gz")); err != nil {
		t.Errorf("tarball not staged: %v", err)
	}

	// Sources land in the per-package dirs with the synthetic
	// top-level prefix stripped.
	if _, err := os.Stat(filepath.Join(b.SrcRoot(), "src", "libfoo", "main.c")); err != nil {
		t.Errorf("libfoo source not unpacked: %v", err)
	}
	if _, err := os.Stat(filepath.Join(b.SrcRoot(), "src", "app", "go.mod")); err != nil {
		t.Errorf("app source not unpacked: %v", err)
	}

	if got := b.Patches(); len(got) != 1 || got[0] != "0001-libfoo-fix.patch" {
		t.Fatalf("patch series = %v", got)
	}
	staged, err := os.ReadFile(filepath.Join(b.SrcRoot(), "patches", "0001-libfoo-fix.patch"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(staged), "--- a/src/libfoo/main.c") {
		t.Errorf("patch headers not re-anchored:\n%s", staged)
	}

	if i, j := strings.Index(driver.buildScript, "make libfoo"),
		strings.Index(driver.buildScript, "make app"); i < 0 || j < 0 || i > j {
		t.Errorf("composite build script out of order:\n%s", driver.buildScript)
	}
	script, err := os.ReadFile(filepath.Join(b.SrcRoot(), "helpers", "_build.sh"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(script), "#!/bin/bash\nset -ex\n") {
		t.Errorf("stage script header missing:\n%s", script)
	}
	if strings.Count(string(script), "make libfoo") != 1 {
		t.Errorf("fragment should appear exactly once:\n%s", script)
	}

	if b.State() != StatePackaged {
		t.Errorf("final state = %d, want %d", b.State(), StatePackaged)
	}
}

func TestAdvanceStateNeverRegresses(t *testing.T) {
	b := newTestBuild(&BuildRequest{Root: bundledPkg("app", nil)})
	b.AdvanceState(StateSourcesUnpacked)
	b.AdvanceState(StateToolsStaged)
	if b.State() != StateSourcesUnpacked {
		t.Fatalf("state = %d, want %d", b.State(), StateSourcesUnpacked)
	}
}

func TestWriteStageScriptAdvancesState(t *testing.T) {
	root := bundledPkg("app", &fakeScripts{fragments: map[packages.Stage]string{
		packages.StageBuild: "make app",
	}})
	driver := &pipelineDriver{}
	b := NewCommon(&BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{root},
		BuildDeps: []*packages.Package{root},
		WorkDir:   t.TempDir(),
		OutputDir: filepath.Join(t.TempDir(), "out"),
	}, fakeTarget{}, driver)
	driver.b = b

	if err := b.prepareLayout(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.WriteStageScript("build", packages.StageBuild, false, packages.LocSourceRoot); err != nil {
		t.Fatal(err)
	}
	if b.State() != StateStageScriptsWritten {
		t.Fatalf("state = %d, want %d", b.State(), StateStageScriptsWritten)
	}
}

func TestRewritePatchPaths(t *testing.T) {
	diff := strings.Join([]string{
		"diff --git a/src/main.c b/src/main.c",
		"index 1234567..89abcde 100644",
		"--- a/src/main.c",
		"+++ b/src/main.c",
		"@@ -1 +1 @@",
		"-old",
		"+new",
	}, "\n")

	got := rewritePatchPaths(diff, "thirdparty/libfoo")
	for _, want := range []string{
		"diff --git a/thirdparty/libfoo/src/main.c b/thirdparty/libfoo/src/main.c",
		"--- a/thirdparty/libfoo/src/main.c",
		"+++ b/thirdparty/libfoo/src/main.c",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "-old") || !strings.Contains(got, "+new") {
		t.Errorf("hunk body altered:\n%s", got)
	}

	if rewritePatchPaths(diff, ".") != diff {
		t.Error("root-level source dir must leave the diff unchanged")
	}
}
