package packages

// Location names an anchor directory inside a build work tree. Every
// path handed to shell fragments is expressed relative to one of
// these, since native build drivers execute scripts from different
// directories.
type Location string

const (
	// LocSourceRoot is the root of the unpacked source tree.
	LocSourceRoot Location = "sourceroot"
	// LocPkgSource is the per-package source directory.
	LocPkgSource Location = "pkgsource"
	// LocPkgBuild is the per-package build directory, the working
	// directory of stage script fragments.
	LocPkgBuild Location = "pkgbuild"
	// LocHelpers is the staged helper script directory.
	LocHelpers Location = "helpers"
	// LocFSRoot anchors absolute filesystem paths.
	LocFSRoot Location = "fsroot"
)

// Locations enumerates the closed set of valid anchors.
func Locations() []Location {
	return []Location{LocSourceRoot, LocPkgSource, LocPkgBuild, LocHelpers, LocFSRoot}
}

// InstallAspect names a class of installed files with a well-known
// destination directory on the target system.
type InstallAspect string

const (
	AspectBin        InstallAspect = "bin"
	AspectSystemBin  InstallAspect = "systembin"
	AspectLib        InstallAspect = "lib"
	AspectInclude    InstallAspect = "include"
	AspectData       InstallAspect = "data"
	AspectSysConf    InstallAspect = "sysconf"
	AspectUserConf   InstallAspect = "userconf"
	AspectLocalState InstallAspect = "localstate"
	AspectRunState   InstallAspect = "runstate"
	AspectLegal      InstallAspect = "legal"
	AspectDoc        InstallAspect = "doc"
	AspectMan        InstallAspect = "man"
	AspectInfo       InstallAspect = "info"
)

// Stage identifies a step of the per-package build script pipeline.
type Stage string

const (
	StageConfigure     Stage = "configure"
	StageBuild         Stage = "build"
	StageBuildInstall  Stage = "build_install"
	StageInstall       Stage = "install"
	StageInstallList   Stage = "install_list"
	StageNoInstallList Stage = "no_install_list"
	StageIgnoreList    Stage = "ignore_list"
)

// BuildEnv is the view of a running build that script generation
// needs. It is implemented by the target build orchestrator.
type BuildEnv interface {
	// RootPackage is the package the artifact is being built for.
	RootPackage() *Package

	// SourceDir is the package source directory relative to rel.
	SourceDir(pkg *Package, rel Location) string
	// BuildDir is the package build directory relative to rel.
	BuildDir(pkg *Package, rel Location) string
	// BuildInstallDir is the staging root the package installs into
	// at build time, relative to rel.
	BuildInstallDir(pkg *Package, rel Location) string
	// TempDir is a package-private scratch directory relative to rel.
	TempDir(pkg *Package, rel Location) string

	// InstallPrefix is the absolute installation prefix of the
	// artifact on the destination system.
	InstallPrefix() string
	// InstallPath is the absolute destination directory for an
	// aspect of pkg's installed files.
	InstallPath(pkg *Package, aspect InstallAspect) string
	// ExeSuffix is the executable suffix of the destination system.
	ExeSuffix() string

	// ToolCommand resolves a logical tool name to an invocable
	// command line, relative to rel where the tool is a staged
	// helper.
	ToolCommand(name string, rel Location) (string, error)
	// WriteHelper stages a helper script under the run helpers
	// directory and returns its invocation relative to rel.
	WriteHelper(name, text string, rel Location) (string, error)

	// Parallelism is the -j value for native build tools.
	Parallelism() int
}

// ScriptSource generates the shell fragments driving a package's
// native build. One implementation exists per package kind.
type ScriptSource interface {
	// StageScript returns the fragment for a pipeline stage; an
	// empty string means the package has nothing to do in it.
	StageScript(env BuildEnv, pkg *Package, stage Stage) (string, error)
	// BuildTools maps logical tool names to helper files shipped
	// next to the package recipe.
	BuildTools(pkg *Package) map[string]string
	// PrivateLibraries lists shared library name globs that must not
	// be exposed to the system linker namespace.
	PrivateLibraries(pkg *Package) []string
}
