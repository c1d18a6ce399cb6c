package packages

import (
	"fmt"
	"sort"
)

// PackageNotFoundError reports a dependency no repository could
// satisfy.
type PackageNotFoundError struct {
	Name       string
	Constraint string
}

func (e *PackageNotFoundError) Error() string {
	if e.Constraint == "" || e.Constraint == "*" {
		return fmt.Sprintf("package %s not found", e.Name)
	}
	return fmt.Sprintf("package %s (%s) not found", e.Name, e.Constraint)
}

// Repository provides candidate packages by name.
type Repository interface {
	Name() string
	// FindPackages returns every known version of a package, in any
	// order. An unknown name yields an empty slice, not an error.
	FindPackages(name string) ([]*Package, error)
}

// Pool is an ordered list of repositories consulted in turn; the
// first repository with candidates for a name wins.
type Pool struct {
	repos []Repository
}

func NewPool(repos ...Repository) *Pool {
	return &Pool{repos: repos}
}

func (p *Pool) AddRepository(r Repository) {
	p.repos = append(p.repos, r)
}

// FindPackages returns the candidate set for a name from the first
// repository that has one.
func (p *Pool) FindPackages(name string) ([]*Package, error) {
	for _, repo := range p.repos {
		pkgs, err := repo.FindPackages(name)
		if err != nil {
			return nil, fmt.Errorf("repository %s: %w", repo.Name(), err)
		}
		if len(pkgs) > 0 {
			return pkgs, nil
		}
	}
	return nil, nil
}

// Package resolves a dependency to the highest version satisfying its
// constraint, or fails with *PackageNotFoundError.
func (p *Pool) Package(dep Dependency) (*Package, error) {
	candidates, err := p.FindPackages(dep.Name)
	if err != nil {
		return nil, err
	}
	var matching []*Package
	for _, pkg := range candidates {
		if dep.Matches(pkg.Version) {
			matching = append(matching, pkg)
		}
	}
	if len(matching) == 0 {
		return nil, &PackageNotFoundError{Name: dep.Name, Constraint: dep.Constraint}
	}
	sort.SliceStable(matching, func(i, j int) bool {
		return CompareCanonical(matching[i].Version, matching[j].Version) > 0
	})
	return matching[0], nil
}

// BundleRepository is an explicit in-memory repository of bundled
// packages, constructed per run.
type BundleRepository struct {
	name     string
	packages map[string][]*Package
}

func NewBundleRepository() *BundleRepository {
	return &BundleRepository{
		name:     "bundle",
		packages: make(map[string][]*Package),
	}
}

func (r *BundleRepository) Name() string { return r.name }

// Add registers a package, replacing an existing entry with the same
// name and version.
func (r *BundleRepository) Add(pkg *Package) {
	existing := r.packages[pkg.Name]
	for i, candidate := range existing {
		if candidate.Version == pkg.Version {
			existing[i] = pkg
			return
		}
	}
	r.packages[pkg.Name] = append(existing, pkg)
}

func (r *BundleRepository) FindPackages(name string) ([]*Package, error) {
	return r.packages[name], nil
}
