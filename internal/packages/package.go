// Package packages defines the abstract package model: package and
// dependency descriptions, per-kind build script generation, recipe
// loading, dependency graphs and version normalization.
package packages

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metaforge-build/metaforge/internal/sources"
)

// Kind discriminates how a package is built.
type Kind string

const (
	// KindSystem marks a package installed from the target's native
	// repositories rather than built from source.
	KindSystem Kind = "system"
	// KindC is a make or autotools driven C/C++ package.
	KindC Kind = "c"
	// KindPython is a Python project packaged via a wheel.
	KindPython Kind = "python"
	// KindGo is a make-driven Go project producing one binary.
	KindGo Kind = "go"
	// KindRust is a cargo project producing one binary.
	KindRust Kind = "rust"
)

// Layout describes the installed file layout of a package.
type Layout int

const (
	// LayoutRegular installs a full FHS-style subtree.
	LayoutRegular Layout = iota
	// LayoutFlat installs files directly under the install root.
	LayoutFlat
	// LayoutSingleBinary ships exactly one executable.
	LayoutSingleBinary
)

// Package describes one buildable or system-provided package.
type Package struct {
	Name          string
	Title         string
	Description   string
	License       string
	Group         string
	URL           string
	Identifier    string
	Version       string // canonical version
	PrettyVersion string
	SourceVersion string // VCS ref or upstream version the sources came from

	Kind   Kind
	Layout Layout

	// SystemName is the native repository name of a system package.
	SystemName string

	Requires      []Dependency
	BuildRequires []Dependency
	Sources       []sources.Source

	// Conflicts names native packages that cannot be co-installed.
	Conflicts []string
	// Transitions names earlier package names this package supersedes;
	// targets that support it emit transitional metapackages for them.
	Transitions []string
	// Provides names virtual packages satisfied at the artifact
	// version.
	Provides []string

	// RecipeDir is the directory the recipe was loaded from; patches
	// and static file lists live next to it.
	RecipeDir string

	Scripts ScriptSource
	Options map[string]string
	Tags    map[string]string
}

// UniqueName identifies a package at an exact version.
func (p *Package) UniqueName() string {
	return p.Name + "-" + p.Version
}

// IsSystem reports whether the package comes from the target's native
// repositories.
func (p *Package) IsSystem() bool {
	return p.Kind == KindSystem
}

// Validate checks the structural package invariants.
func (p *Package) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("package has no name")
	}
	if p.IsSystem() {
		if p.SystemName == "" {
			return fmt.Errorf("system package %s has no system name", p.Name)
		}
		if len(p.Sources) > 0 {
			return fmt.Errorf("system package %s must not carry sources", p.Name)
		}
		return nil
	}
	if p.Title == "" {
		return fmt.Errorf("package %s has no title", p.Name)
	}
	if len(p.Sources) == 0 {
		return fmt.Errorf("package %s has no sources", p.Name)
	}
	return nil
}

// VCSSource returns the package's git source. It is an error for a
// VCS-built package to have anything but exactly one git source.
func (p *Package) VCSSource() (*sources.GitSource, error) {
	if len(p.Sources) != 1 {
		return nil, fmt.Errorf("package %s does not have exactly one source", p.Name)
	}
	git, ok := p.Sources[0].(*sources.GitSource)
	if !ok {
		return nil, fmt.Errorf("package %s is not built from a git source", p.Name)
	}
	return git, nil
}

// Patch is one patch file applying to a named sub-package source
// tree.
type Patch struct {
	Package string
	Name    string
	Diff    string
}

// Patches reads the patch files shipped next to the recipe, named
// <pkg>__<name>.patch, grouped by target package and ordered by name
// within each group.
func (p *Package) Patches() (map[string][]Patch, error) {
	patches := make(map[string][]Patch)
	if p.RecipeDir == "" {
		return patches, nil
	}
	dir := filepath.Join(p.RecipeDir, "patches")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return patches, nil
	}
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".patch") {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ".patch")
		pkg, name, _ := strings.Cut(stem, "__")
		diff, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		patches[pkg] = append(patches[pkg], Patch{
			Package: pkg,
			Name:    name,
			Diff:    string(diff),
		})
	}
	for _, plist := range patches {
		sort.Slice(plist, func(i, j int) bool { return plist[i].Name < plist[j].Name })
	}
	return patches, nil
}

// ListEntries reads a static file list (<listname>.list) shipped next
// to the recipe. Entries may contain install path placeholders that
// the build substitutes later.
func (p *Package) ListEntries(listname string) ([]string, error) {
	if p.RecipeDir == "" {
		return nil, nil
	}
	data, err := os.ReadFile(filepath.Join(p.RecipeDir, listname+".list"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	return entries, nil
}

// SubstituteListEntry expands the install path placeholders of a
// static list entry. All paths are relative to the filesystem root.
func SubstituteListEntry(entry string, env BuildEnv, pkg *Package) string {
	pairs := []string{
		"{name}", pkg.Name,
		"{version}", pkg.Version,
		"{prefix}", strings.TrimPrefix(env.InstallPrefix(), "/"),
		"{exesuffix}", env.ExeSuffix(),
	}
	for _, aspect := range []InstallAspect{
		AspectBin, AspectSystemBin, AspectLib, AspectInclude, AspectData,
		AspectLegal, AspectDoc, AspectMan,
	} {
		pairs = append(pairs,
			"{"+string(aspect)+"dir}",
			strings.TrimPrefix(env.InstallPath(pkg, aspect), "/"))
	}
	return strings.NewReplacer(pairs...).Replace(strings.TrimSpace(entry))
}
