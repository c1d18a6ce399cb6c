package main

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/metaforge-build/metaforge/internal/packages"
	"github.com/metaforge-build/metaforge/internal/sources"
	"github.com/metaforge-build/metaforge/internal/targets"
	"github.com/metaforge-build/metaforge/internal/utils/system"
)

// loadRootPackage resolves a CLI locator to a recipe, loads it, pins
// the requested source ref and resolves the package version against
// the source checkout.
func loadRootPackage(ctx context.Context, locator, sourceRef string, release bool) (*packages.Package, error) {
	path, err := packages.ResolveLocator(locator)
	if err != nil {
		return nil, &usageError{err: err}
	}
	pkg, err := packages.LoadRecipe(path)
	if err != nil {
		return nil, &usageError{err: err}
	}

	if sourceRef != "" {
		pinned := false
		for _, src := range pkg.Sources {
			if gs, ok := src.(*sources.GitSource); ok {
				gs.SetRef(sourceRef)
				pinned = true
			}
		}
		if !pinned {
			return nil, &usageError{err: fmt.Errorf(
				"--source-ref given but %s has no git source", pkg.Name)}
		}
	}

	if err := resolveVersion(ctx, pkg, release); err != nil {
		return nil, err
	}
	return pkg, nil
}

var describeDevRe = regexp.MustCompile(`^(.*)-(\d+)-g[0-9a-f]+$`)

// splitDescribe separates git describe output into the base tag and
// the number of commits since it. Exactly-tagged output yields zero
// commits; a leading v on the tag is dropped.
func splitDescribe(describe string) (base, commits string) {
	base = describe
	commits = "0"
	if m := describeDevRe.FindStringSubmatch(describe); m != nil {
		base = m[1]
		commits = m[2]
	}
	return strings.TrimPrefix(base, "v"), commits
}

// resolveVersion determines the package version. Recipes with a git
// source derive it from the checkout: the base comes from the recipe
// or the nearest tag, and non-release builds append local version
// segments carrying the commit count, date and hash.
func resolveVersion(ctx context.Context, pkg *packages.Package, release bool) error {
	var git *sources.GitSource
	for _, src := range pkg.Sources {
		if gs, ok := src.(*sources.GitSource); ok {
			git = gs
			break
		}
	}
	if git == nil {
		if pkg.Version == "" && !pkg.IsSystem() {
			return &usageError{err: fmt.Errorf(
				"recipe for %s declares no version and has no git source", pkg.Name)}
		}
		return nil
	}

	describe, err := git.Describe(ctx, "")
	if err != nil {
		return fmt.Errorf("resolving version of %s: %w", pkg.Name, err)
	}
	hash, err := git.RevParse(ctx, "HEAD")
	if err != nil {
		return fmt.Errorf("resolving version of %s: %w", pkg.Name, err)
	}
	timestamp, err := git.CommitTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("resolving version of %s: %w", pkg.Name, err)
	}

	base, commits := splitDescribe(describe)
	if pkg.Version != "" {
		base = pkg.Version
	}

	if release {
		if commits != "0" {
			return &usageError{err: fmt.Errorf(
				"%s: release build requested but %s is %s commits past the last tag",
				pkg.Name, hash[:9], commits)}
		}
		pkg.Version = base
	} else {
		pkg.Version = fmt.Sprintf("%s+r%s.d%s.g%s",
			base, commits,
			time.Unix(timestamp, 0).UTC().Format("20060102"),
			hash[:9])
	}
	pkg.PrettyVersion = pkg.Version
	pkg.SourceVersion = hash
	return nil
}

// detectTarget identifies the packaging target for this host.
func detectTarget(generic bool, libc string) (targets.Target, error) {
	host, err := system.DetectHost()
	if err != nil {
		return nil, &usageError{err: err}
	}
	target, err := targets.Detect(&host, targets.DetectOptions{
		Generic: generic,
		Libc:    libc,
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// capabilityExtras exposes the target's platform capabilities as
// dependency extras, so recipes can gate dependencies on, for
// example, "capability-systemd".
func capabilityExtras(target targets.Target) []string {
	caps := target.Capabilities()
	extras := make([]string, 0, len(caps))
	for _, c := range caps {
		extras = append(extras, "capability-"+c)
	}
	return extras
}

// buildPool assembles the repository lookup order: bundled recipes
// next to the root recipe first, then the target's system packages.
func buildPool(pkg *packages.Package, target targets.Target) (*packages.Pool, error) {
	pool := packages.NewPool()
	if pkg.RecipeDir != "" {
		bundle, err := packages.LoadRecipeDir(pkg.RecipeDir)
		if err != nil {
			return nil, err
		}
		bundle.Add(pkg)
		pool.AddRepository(bundle)
	}
	if sysRepo := target.PackageRepository(); sysRepo != nil {
		pool.AddRepository(sysRepo)
	}
	return pool, nil
}
