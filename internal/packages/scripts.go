package packages

import (
	"fmt"
	"strings"
)

// licenseFilesPattern matches the conventional license file names in
// a source tree root. Expanded by bash during the build.
const licenseFilesPattern = "{LICENSE*,COPYING,NOTICE,COPYRIGHT}"

// scriptsCommon carries the ScriptSource behavior shared by all
// bundled kinds.
type scriptsCommon struct{}

func (scriptsCommon) BuildTools(pkg *Package) map[string]string { return nil }

func (scriptsCommon) PrivateLibraries(pkg *Package) []string { return nil }

// licenseCopyScript stages the package license files into the legal
// directory of the build install tree.
func licenseCopyScript(env BuildEnv, pkg *Package) string {
	sdir := env.SourceDir(pkg, LocPkgBuild)
	legal := strings.TrimPrefix(env.InstallPath(pkg, AspectLegal), "/")
	dest := env.BuildInstallDir(pkg, LocPkgBuild) + "/" + legal
	return fmt.Sprintf(`mkdir -p "%[1]s"
for _lic_src in "%[2]s"/%[3]s; do
    if [ -e "$_lic_src" ]; then
        cp "$_lic_src" "%[1]s/%[4]s-$(basename "$_lic_src")"
    fi
done
`, dest, sdir, licenseFilesPattern, pkg.Name)
}

// fileListScript emits an invocation of a generated helper that
// prints the files matching the package's static <listname>.list
// entries plus extraEntries, relative to the build install tree.
// An empty entry set produces no script.
func fileListScript(env BuildEnv, pkg *Package, listname string, extraEntries []string) (string, error) {
	entries, err := pkg.ListEntries(listname)
	if err != nil {
		return "", err
	}
	entries = append(append([]string{}, extraEntries...), entries...)
	if len(entries) == 0 {
		return "", nil
	}

	patterns := make([]string, 0, len(entries))
	for _, entry := range entries {
		patterns = append(patterns, SubstituteListEntry(entry, env, pkg))
	}

	installdest := env.BuildInstallDir(pkg, LocPkgBuild)
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&sb, "cd \"%s\" || exit 0\n", installdest)
	fmt.Fprintf(&sb, "for _p in %s; do\n", strings.Join(patterns, " "))
	sb.WriteString("    if [ -e \"$_p\" ] || [ -L \"$_p\" ]; then\n")
	sb.WriteString("        printf '%s\\n' \"$_p\"\n")
	sb.WriteString("    fi\n")
	sb.WriteString("done\n")

	name := fmt.Sprintf("_gen_%s_list_%s.sh", listname, pkg.UniqueName())
	return env.WriteHelper(name, sb.String(), LocPkgBuild)
}

// makeCommand renders an invocation of make with MAKELEVEL cleared;
// some package makefiles condition on MAKELEVEL.
func makeCommand(env BuildEnv, extraArgs string) (string, error) {
	make, err := env.ToolCommand("make", LocPkgBuild)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("env -u MAKELEVEL %s -j%d", make, env.Parallelism())
	if extraArgs != "" {
		cmd += " " + extraArgs
	}
	return cmd, nil
}
