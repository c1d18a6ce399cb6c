package packages

import (
	"fmt"
	"strings"
)

// GoScripts builds a make-driven Go project that ships a single
// binary. Go builds are not source-directory-relocatable in general,
// so the sources are copied into the build directory first and the
// build runs in place.
type GoScripts struct {
	scriptsCommon
}

func (s *GoScripts) StageScript(env BuildEnv, pkg *Package, stage Stage) (string, error) {
	switch stage {
	case StageConfigure:
		sdir := env.SourceDir(pkg, LocPkgBuild)
		return fmt.Sprintf("test ./ -ef \"%s\" || cp -a \"%s\"/* ./\n", sdir, sdir), nil
	case StageBuild:
		return makeCommand(env, "")
	case StageBuildInstall:
		return s.buildInstall(env, pkg), nil
	case StageInstallList:
		return fileListScript(env, pkg, "install",
			[]string{"{systembindir}/{name}{exesuffix}", "{legaldir}/*"})
	case StageNoInstallList:
		return fileListScript(env, pkg, "no_install", nil)
	case StageIgnoreList:
		return fileListScript(env, pkg, "ignore", nil)
	default:
		return "", nil
	}
}

func (s *GoScripts) buildInstall(env BuildEnv, pkg *Package) string {
	bindir := strings.TrimPrefix(env.InstallPath(pkg, AspectSystemBin), "/")
	dest := fmt.Sprintf("%s/%s/%s%s",
		env.BuildInstallDir(pkg, LocPkgBuild), bindir, pkg.Name, env.ExeSuffix())

	var sb strings.Builder
	fmt.Fprintf(&sb, "mkdir -p \"$(dirname \"%s\")\"\n", dest)
	fmt.Fprintf(&sb, "cp -a \"bin/%s%s\" \"%s\"\n", pkg.Name, env.ExeSuffix(), dest)
	sb.WriteString(licenseCopyScript(env, pkg))
	return sb.String()
}

// RustScripts builds a cargo project that ships a single binary via
// cargo install into a scratch root.
type RustScripts struct {
	scriptsCommon
}

func (s *RustScripts) StageScript(env BuildEnv, pkg *Package, stage Stage) (string, error) {
	switch stage {
	case StageBuildInstall:
		return s.buildInstall(env, pkg)
	case StageInstallList:
		return fileListScript(env, pkg, "install",
			[]string{"{systembindir}/{name}{exesuffix}", "{legaldir}/*"})
	case StageNoInstallList:
		return fileListScript(env, pkg, "no_install", nil)
	case StageIgnoreList:
		return fileListScript(env, pkg, "ignore", nil)
	default:
		return "", nil
	}
}

func (s *RustScripts) buildInstall(env BuildEnv, pkg *Package) (string, error) {
	cargo, err := env.ToolCommand("cargo", LocPkgBuild)
	if err != nil {
		return "", err
	}
	sed, err := env.ToolCommand("sed", LocPkgBuild)
	if err != nil {
		return "", err
	}
	sdir := env.SourceDir(pkg, LocPkgBuild)
	scratch := env.TempDir(pkg, LocPkgBuild)
	bindir := strings.TrimPrefix(env.InstallPath(pkg, AspectSystemBin), "/")
	dest := env.BuildInstallDir(pkg, LocPkgBuild) + "/" + bindir

	var sb strings.Builder
	sb.WriteString("_wd=$(pwd -P)\n")
	// A VCS snapshot may not carry the release version in its
	// manifest; pin it so the built binary reports the right one.
	fmt.Fprintf(&sb, "%s -i -e \"0,/^version\\s*=/ s/^version\\s*=.*/version = \\\"%s\\\"/\" \"%s/Cargo.toml\"\n",
		sed, pkg.PrettyVersion, sdir)
	fmt.Fprintf(&sb, "env RUST_BACKTRACE=1 %s install --verbose --verbose --root \"${_wd}/%s\" --path \"%s\" --locked\n",
		cargo, scratch, sdir)
	fmt.Fprintf(&sb, "mkdir -p \"%s\"\n", dest)
	fmt.Fprintf(&sb, "cp -a \"${_wd}/%s/bin/\"* \"%s/\"\n", scratch, dest)
	sb.WriteString(licenseCopyScript(env, pkg))
	return sb.String(), nil
}
