package packages

import (
	"fmt"
	"strings"
)

// AutotoolsScripts drives make or autotools based C/C++ packages. The
// configure stage runs the upstream configure script with the full
// set of destination directories; build and install go through make
// with a DESTDIR staging install.
type AutotoolsScripts struct {
	scriptsCommon
}

func (s *AutotoolsScripts) StageScript(env BuildEnv, pkg *Package, stage Stage) (string, error) {
	switch stage {
	case StageConfigure:
		return s.configure(env, pkg), nil
	case StageBuild:
		return makeCommand(env, "")
	case StageBuildInstall:
		return s.buildInstall(env, pkg)
	case StageInstallList:
		return fileListScript(env, pkg, "install", []string{"{legaldir}/*"})
	case StageNoInstallList:
		return fileListScript(env, pkg, "no_install", nil)
	case StageIgnoreList:
		return fileListScript(env, pkg, "ignore", nil)
	default:
		return "", nil
	}
}

func (s *AutotoolsScripts) configure(env BuildEnv, pkg *Package) string {
	sdir := env.SourceDir(pkg, LocPkgBuild)

	args := []string{
		fmt.Sprintf("--prefix=%s", env.InstallPrefix()),
		fmt.Sprintf("--bindir=%s", env.InstallPath(pkg, AspectBin)),
		fmt.Sprintf("--sbindir=%s", env.InstallPath(pkg, AspectSystemBin)),
		fmt.Sprintf("--libdir=%s", env.InstallPath(pkg, AspectLib)),
		fmt.Sprintf("--includedir=%s", env.InstallPath(pkg, AspectInclude)),
		fmt.Sprintf("--datarootdir=%s", env.InstallPath(pkg, AspectData)),
		fmt.Sprintf("--sysconfdir=%s", env.InstallPath(pkg, AspectSysConf)),
		fmt.Sprintf("--localstatedir=%s", env.InstallPath(pkg, AspectLocalState)),
		fmt.Sprintf("--docdir=%s", env.InstallPath(pkg, AspectDoc)),
		fmt.Sprintf("--mandir=%s", env.InstallPath(pkg, AspectMan)),
		fmt.Sprintf("--infodir=%s", env.InstallPath(pkg, AspectInfo)),
	}
	if extra := pkg.Options["configure-args"]; extra != "" {
		args = append(args, strings.Fields(extra)...)
	}

	return fmt.Sprintf("\"%s/configure\" %s\n", sdir, strings.Join(args, " "))
}

func (s *AutotoolsScripts) buildInstall(env BuildEnv, pkg *Package) (string, error) {
	installdest := env.BuildInstallDir(pkg, LocPkgBuild)
	libdir := env.InstallPath(pkg, AspectLib)

	install, err := makeCommand(env, `DESTDIR="${_wd}/`+installdest+`" install`)
	if err != nil {
		return "", err
	}
	find, err := env.ToolCommand("find", LocPkgBuild)
	if err != nil {
		return "", err
	}
	sed, err := env.ToolCommand("sed", LocPkgBuild)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("_wd=$(pwd -P)\n")
	sb.WriteString(install)
	sb.WriteString("\n")
	// Libtool archives and pkg-config files record absolute install
	// paths. Point them at the staging tree so in-bundle dependents
	// link against staged libraries instead of the host's.
	fmt.Fprintf(&sb, "_d=\"${_wd}/%s\"\n", installdest)
	fmt.Fprintf(&sb, "%s \"$_d\" -name '*.la' -exec %s -i -e \"s|%s|${_d}%s|g\" {} \\;\n",
		find, sed, libdir, libdir)
	fmt.Fprintf(&sb, "%s \"$_d\" -path '*/pkgconfig/*.pc' -exec %s -i -e \"s|^prefix=.*|prefix=${_d}%s|\" {} \\;\n",
		find, sed, env.InstallPrefix())
	sb.WriteString(licenseCopyScript(env, pkg))
	return sb.String(), nil
}
