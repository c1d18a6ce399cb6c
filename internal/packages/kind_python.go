package packages

import (
	"fmt"
	"strings"
)

// PythonWheelScripts builds a Python project into a wheel and installs
// it into the staging tree with pip. The installed file set is read
// back from the wheel RECORD manifests at list time, so no static
// install list is needed for the Python payload itself.
type PythonWheelScripts struct {
	scriptsCommon
}

func (s *PythonWheelScripts) StageScript(env BuildEnv, pkg *Package, stage Stage) (string, error) {
	switch stage {
	case StageBuild:
		return s.build(env, pkg)
	case StageBuildInstall:
		return s.buildInstall(env, pkg)
	case StageInstallList:
		return s.installList(env, pkg)
	case StageNoInstallList:
		return fileListScript(env, pkg, "no_install", nil)
	case StageIgnoreList:
		return fileListScript(env, pkg, "ignore", nil)
	default:
		return "", nil
	}
}

func (s *PythonWheelScripts) build(env BuildEnv, pkg *Package) (string, error) {
	python, err := env.ToolCommand("python", LocPkgBuild)
	if err != nil {
		return "", err
	}
	sdir := env.SourceDir(pkg, LocPkgBuild)
	wheeldir := env.TempDir(pkg, LocPkgBuild)

	var sb strings.Builder
	sb.WriteString("_wd=$(pwd -P)\n")
	fmt.Fprintf(&sb,
		"%s -m pip wheel --verbose --no-binary :all: --no-deps --wheel-dir \"${_wd}/%s\" \"${_wd}/%s\"\n",
		python, wheeldir, sdir)
	return sb.String(), nil
}

func (s *PythonWheelScripts) buildInstall(env BuildEnv, pkg *Package) (string, error) {
	python, err := env.ToolCommand("python", LocPkgBuild)
	if err != nil {
		return "", err
	}
	wheeldir := env.TempDir(pkg, LocPkgBuild)
	installdest := env.BuildInstallDir(pkg, LocPkgBuild)

	var sb strings.Builder
	sb.WriteString("_wd=$(pwd -P)\n")
	fmt.Fprintf(&sb,
		"%s -m pip install --no-index --no-deps --force-reinstall --no-warn-script-location \\\n"+
			"    --find-links \"file://${_wd}/%s\" \\\n"+
			"    --root \"${_wd}/%s\" --prefix \"%s\" \"%s\"\n",
		python, wheeldir, installdest, env.InstallPrefix(), pkg.Name)
	sb.WriteString(licenseCopyScript(env, pkg))
	return sb.String(), nil
}

// recordListHelper walks the staging tree for wheel RECORD manifests
// and prints every recorded file relative to the staging root.
const recordListHelper = `import pathlib
import sys

root = pathlib.Path(sys.argv[1]).resolve()

for record in sorted(root.glob("**/*.dist-info/RECORD")):
    sitedir = record.parent.parent
    for line in record.read_text().splitlines():
        path = line.split(",")[0]
        if not path:
            continue
        entry = (sitedir / path).resolve()
        try:
            print(entry.relative_to(root))
        except ValueError:
            pass
`

func (s *PythonWheelScripts) installList(env BuildEnv, pkg *Package) (string, error) {
	helper, err := env.WriteHelper(
		fmt.Sprintf("_gen_wheel_list_%s.py", pkg.UniqueName()),
		recordListHelper, LocPkgBuild)
	if err != nil {
		return "", err
	}
	static, err := fileListScript(env, pkg, "install", []string{"{legaldir}/*"})
	if err != nil {
		return "", err
	}

	installdest := env.BuildInstallDir(pkg, LocPkgBuild)
	script := fmt.Sprintf("%s \"%s\"\n", helper, installdest)
	if static != "" {
		script += static + "\n"
	}
	return script, nil
}
