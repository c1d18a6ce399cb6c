package generic

import (
	"testing"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

func TestDetectLibc(t *testing.T) {
	host := &system.HostInfo{OS: "linux", Arch: "x86_64"}

	tgt, err := detect(host, targets.DetectOptions{Generic: true})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Libc() != "glibc" {
		t.Errorf("default libc = %q, want glibc", tgt.Libc())
	}

	tgt, err = detect(host, targets.DetectOptions{Generic: true, Libc: "musl"})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Name() != "generic-linux-musl" {
		t.Errorf("name = %q", tgt.Name())
	}
	if tgt.Triple() != "x86_64-unknown-linux-musl" {
		t.Errorf("triple = %q", tgt.Triple())
	}

	if _, err := detect(host, targets.DetectOptions{Generic: true, Libc: "uclibc"}); err == nil {
		t.Error("expected an error for unsupported libc")
	}
}

func TestDetectNonLinuxIgnoresLibc(t *testing.T) {
	tgt, err := detect(&system.HostInfo{OS: "windows", Arch: "x86_64"},
		targets.DetectOptions{Generic: true})
	if err != nil {
		t.Fatal(err)
	}
	if tgt.Libc() != "" {
		t.Errorf("libc = %q, want empty", tgt.Libc())
	}
	if tgt.ExeSuffix() != ".exe" {
		t.Errorf("exe suffix = %q", tgt.ExeSuffix())
	}
	if tgt.Triple() != "x86_64-pc-windows-msvc" {
		t.Errorf("triple = %q", tgt.Triple())
	}
}

func TestInstallPaths(t *testing.T) {
	tgt := &Target{os: "linux", arch: "x86_64", libc: "glibc"}
	root := &packages.Package{Name: "myapp"}
	dep := &packages.Package{Name: "libfoo"}

	if got := tgt.InstallPrefix(root); got != "/opt/myapp" {
		t.Fatalf("prefix = %q", got)
	}
	cases := []struct {
		aspect packages.InstallAspect
		want   string
	}{
		{packages.AspectBin, "/opt/myapp/bin"},
		{packages.AspectSystemBin, "/opt/myapp/bin"},
		{packages.AspectLib, "/opt/myapp/lib"},
		{packages.AspectSysConf, "/opt/myapp/etc"},
		{packages.AspectLegal, "/opt/myapp/share/doc/libfoo/licenses"},
		{packages.AspectRunState, "/opt/myapp/var/run"},
	}
	for _, tc := range cases {
		if got := tgt.InstallPath(root, dep, tc.aspect); got != tc.want {
			t.Errorf("InstallPath(%s) = %q, want %q", tc.aspect, got, tc.want)
		}
	}
}

func newDriver(t *testing.T) *Build {
	t.Helper()
	tgt := &Target{os: "linux", arch: "x86_64", libc: "glibc"}
	root := &packages.Package{
		Name:          "myapp",
		Version:       "1.2.3",
		PrettyVersion: "1.2.3",
		Kind:          packages.KindGo,
	}
	dep := &packages.Package{
		Name:          "libfoo",
		Version:       "2.0",
		PrettyVersion: "2.0",
		Kind:          packages.KindC,
	}
	build, err := tgt.NewBuild(&targets.BuildRequest{
		Root:      root,
		Deps:      []*packages.Package{dep, root},
		BuildDeps: []*packages.Package{dep, root},
	})
	if err != nil {
		t.Fatal(err)
	}
	return build.(*Build)
}

func TestDriverLayout(t *testing.T) {
	b := newDriver(t)
	root := b.RootPackage()
	dep := b.Bundled()[0]

	if got := b.SourceDirRel(root); got != "." {
		t.Errorf("root source dir = %q", got)
	}
	if got := b.SourceDirRel(dep); got != "thirdparty/libfoo" {
		t.Errorf("dep source dir = %q", got)
	}

	// A path expressed relative to the source root re-anchored to the
	// package build directory climbs out of _artifacts/build/<name>.
	if got := b.RelPath("build/helpers/x.sh", packages.LocPkgBuild, dep); got != "../../../build/helpers/x.sh" {
		t.Errorf("pkgbuild rel = %q", got)
	}
	if got := b.RelPath("Makefile", packages.LocSourceRoot, dep); got != "Makefile" {
		t.Errorf("sourceroot rel = %q", got)
	}
	if got := b.RelPath("x", packages.LocPkgSource, root); got != "x" {
		t.Errorf("root pkgsource rel = %q", got)
	}
	if got := b.RelPath("x", packages.LocPkgSource, dep); got != "../../x" {
		t.Errorf("dep pkgsource rel = %q", got)
	}

	if got := b.TarballName(dep); got != "myapp_1.2.3.orig-libfoo{part}.tar{comp}" {
		t.Errorf("tarball template = %q", got)
	}
}
