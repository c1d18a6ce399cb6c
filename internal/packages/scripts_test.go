package packages

import (
	"strings"
	"testing"
)

// fakeEnv is a minimal BuildEnv for script generation tests.
type fakeEnv struct {
	helpers map[string]string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{helpers: make(map[string]string)}
}

func (e *fakeEnv) RootPackage() *Package { return nil }

func (e *fakeEnv) SourceDir(pkg *Package, rel Location) string {
	return "../sources/" + pkg.UniqueName()
}

func (e *fakeEnv) BuildDir(pkg *Package, rel Location) string { return "." }

func (e *fakeEnv) BuildInstallDir(pkg *Package, rel Location) string {
	return "_install/" + pkg.UniqueName()
}

func (e *fakeEnv) TempDir(pkg *Package, rel Location) string {
	return "_tmp/" + pkg.UniqueName()
}

func (e *fakeEnv) InstallPrefix() string { return "/usr/local" }

func (e *fakeEnv) InstallPath(pkg *Package, aspect InstallAspect) string {
	switch aspect {
	case AspectBin, AspectSystemBin:
		return "/usr/local/bin"
	case AspectLib:
		return "/usr/local/lib"
	case AspectLegal:
		return "/usr/local/share/doc/" + pkg.Name + "/licenses"
	default:
		return "/usr/local/share/" + string(aspect)
	}
}

func (e *fakeEnv) ExeSuffix() string { return "" }

func (e *fakeEnv) ToolCommand(name string, rel Location) (string, error) {
	return name, nil
}

func (e *fakeEnv) WriteHelper(name, text string, rel Location) (string, error) {
	e.helpers[name] = text
	return "../helpers/" + name, nil
}

func (e *fakeEnv) Parallelism() int { return 4 }

func buildPkg(kind Kind) *Package {
	scripts, err := ScriptsFor(kind)
	if err != nil {
		panic(err)
	}
	return &Package{
		Name:          "mytool",
		Version:       "1.0",
		PrettyVersion: "1.0",
		Kind:          kind,
		Scripts:       scripts,
	}
}

func TestAutotoolsConfigureScript(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindC)
	pkg.Options = map[string]string{"configure-args": "--without-x"}

	script, err := pkg.Scripts.StageScript(env, pkg, StageConfigure)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"../sources/mytool-1.0/configure",
		"--prefix=/usr/local",
		"--sysconfdir=/usr/local/share/sysconf",
		"--without-x",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("configure script missing %q:\n%s", want, script)
		}
	}
}

func TestAutotoolsBuildAndInstallScripts(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindC)

	build, err := pkg.Scripts.StageScript(env, pkg, StageBuild)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(build, "env -u MAKELEVEL make -j4") {
		t.Errorf("unexpected build script:\n%s", build)
	}

	install, err := pkg.Scripts.StageScript(env, pkg, StageBuildInstall)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"DESTDIR=\"${_wd}/_install/mytool-1.0\" install",
		"*.la",
		"pkgconfig/*.pc",
		"LICENSE*",
	} {
		if !strings.Contains(install, want) {
			t.Errorf("install script missing %q:\n%s", want, install)
		}
	}
}

func TestGoScripts(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindGo)

	configure, err := pkg.Scripts.StageScript(env, pkg, StageConfigure)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(configure, "cp -a \"../sources/mytool-1.0\"/* ./") {
		t.Errorf("unexpected configure script:\n%s", configure)
	}

	install, err := pkg.Scripts.StageScript(env, pkg, StageBuildInstall)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(install, "cp -a \"bin/mytool\" \"_install/mytool-1.0/usr/local/bin/mytool\"") {
		t.Errorf("unexpected install script:\n%s", install)
	}

	list, err := pkg.Scripts.StageScript(env, pkg, StageInstallList)
	if err != nil {
		t.Fatal(err)
	}
	if list != "../helpers/_gen_install_list_mytool-1.0.sh" {
		t.Fatalf("unexpected list invocation: %q", list)
	}
	helper := env.helpers["_gen_install_list_mytool-1.0.sh"]
	for _, want := range []string{
		"cd \"_install/mytool-1.0\"",
		"usr/local/bin/mytool",
		"usr/local/share/doc/mytool/licenses/*",
	} {
		if !strings.Contains(helper, want) {
			t.Errorf("list helper missing %q:\n%s", want, helper)
		}
	}

	// Nothing to do outside the defined stages.
	script, err := pkg.Scripts.StageScript(env, pkg, StageInstall)
	if err != nil {
		t.Fatal(err)
	}
	if script != "" {
		t.Fatalf("expected no install stage script, got:\n%s", script)
	}
}

func TestRustBuildInstallScript(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindRust)

	script, err := pkg.Scripts.StageScript(env, pkg, StageBuildInstall)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Cargo.toml",
		"cargo install",
		"--locked",
		"--root \"${_wd}/_tmp/mytool-1.0\"",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("install script missing %q:\n%s", want, script)
		}
	}
}

func TestPythonWheelScripts(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindPython)

	build, err := pkg.Scripts.StageScript(env, pkg, StageBuild)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(build, "pip wheel") || !strings.Contains(build, "--no-binary :all:") {
		t.Errorf("unexpected build script:\n%s", build)
	}

	install, err := pkg.Scripts.StageScript(env, pkg, StageBuildInstall)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(install, "--root \"${_wd}/_install/mytool-1.0\"") {
		t.Errorf("unexpected install script:\n%s", install)
	}

	list, err := pkg.Scripts.StageScript(env, pkg, StageInstallList)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(list, "_gen_wheel_list_mytool-1.0.py") {
		t.Errorf("expected the RECORD helper invocation:\n%s", list)
	}
	if !strings.Contains(env.helpers["_gen_wheel_list_mytool-1.0.py"], "RECORD") {
		t.Error("RECORD helper not staged")
	}
}

func TestSubstituteListEntry(t *testing.T) {
	env := newFakeEnv()
	pkg := buildPkg(KindGo)

	got := SubstituteListEntry("{systembindir}/{name}{exesuffix}", env, pkg)
	if got != "usr/local/bin/mytool" {
		t.Fatalf("got %q", got)
	}
	got = SubstituteListEntry("/{prefix}/share/{name}-{version}", env, pkg)
	if got != "/usr/local/share/mytool-1.0" {
		t.Fatalf("got %q", got)
	}
}
