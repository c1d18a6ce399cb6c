package packages

import (
	"errors"
	"testing"
)

func TestPoolPicksHighestMatchingVersion(t *testing.T) {
	repo := NewBundleRepository()
	repo.Add(makePkg("lib", "1.0"))
	repo.Add(makePkg("lib", "1.2"))
	repo.Add(makePkg("lib", "2.0"))
	pool := NewPool(repo)

	pkg, err := pool.Package(Dependency{Name: "lib"})
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Version != "2.0" {
		t.Fatalf("got version %s, want 2.0", pkg.Version)
	}

	pkg, err = pool.Package(Dependency{Name: "lib", Constraint: "<2.0"})
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Version != "1.2" {
		t.Fatalf("got version %s, want 1.2", pkg.Version)
	}
}

func TestPoolFirstRepositoryWins(t *testing.T) {
	first := NewBundleRepository()
	first.Add(makePkg("lib", "1.0"))
	second := NewBundleRepository()
	second.Add(makePkg("lib", "9.0"))
	pool := NewPool(first, second)

	pkg, err := pool.Package(Dependency{Name: "lib"})
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Version != "1.0" {
		t.Fatalf("expected the first repository's candidate, got %s", pkg.Version)
	}
}

func TestPoolPackageNotFound(t *testing.T) {
	pool := NewPool(NewBundleRepository())
	_, err := pool.Package(Dependency{Name: "nope", Constraint: ">=2.0"})
	var notFound *PackageNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected PackageNotFoundError, got %v", err)
	}
	if notFound.Name != "nope" || notFound.Constraint != ">=2.0" {
		t.Fatalf("unexpected error detail: %+v", notFound)
	}
}

func TestBundleRepositoryReplacesSameVersion(t *testing.T) {
	repo := NewBundleRepository()
	old := makePkg("lib", "1.0")
	repo.Add(old)
	replacement := makePkg("lib", "1.0")
	replacement.Title = "updated"
	repo.Add(replacement)

	pkgs, err := repo.FindPackages("lib")
	if err != nil {
		t.Fatal(err)
	}
	if len(pkgs) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(pkgs))
	}
	if pkgs[0].Title != "updated" {
		t.Fatal("same-version add must replace the existing entry")
	}
}

func TestSimpleResolverOrdersClosure(t *testing.T) {
	repo := NewBundleRepository()
	repo.Add(makePkg("liba", "1.0"))
	repo.Add(makePkg("libb", "1.0", Dependency{Name: "liba"}))
	pool := NewPool(repo)

	root := makePkg("app", "1.0",
		Dependency{Name: "libb"},
		Dependency{Name: "liba", Constraint: ">=1.0"})

	resolved, err := SimpleResolver{}.Resolve(root, pool, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	order := names(resolved)
	if len(order) != 3 {
		t.Fatalf("expected 3 packages, got %v", order)
	}
	if order[len(order)-1] != "app" {
		t.Fatalf("root must come last: %v", order)
	}
	if indexOf(order, "liba") > indexOf(order, "libb") {
		t.Errorf("liba must precede libb: %v", order)
	}
}

func TestSimpleResolverMarksActivatedDeps(t *testing.T) {
	repo := NewBundleRepository()
	repo.Add(makePkg("liba", "1.0"))
	repo.Add(makePkg("tool", "1.0"))
	pool := NewPool(repo)

	root := makePkg("app", "1.0",
		Dependency{Name: "liba"},
		Dependency{Name: "optional", InExtras: []string{"full"}})
	root.BuildRequires = []Dependency{{Name: "tool"}}

	if _, err := (SimpleResolver{}).Resolve(root, pool, nil, false); err != nil {
		t.Fatal(err)
	}
	if !root.Requires[0].Activated {
		t.Error("admitted runtime dependency must be marked activated")
	}
	if root.Requires[1].Activated {
		t.Error("extras-gated dependency must stay unmarked")
	}
	if root.BuildRequires[0].Activated {
		t.Error("build dependency must stay unmarked in the runtime closure")
	}

	if _, err := (SimpleResolver{}).Resolve(root, pool, nil, true); err != nil {
		t.Fatal(err)
	}
	if !root.BuildRequires[0].Activated {
		t.Error("admitted build dependency must be marked activated")
	}
}

func TestSimpleResolverSkipsInactiveExtras(t *testing.T) {
	pool := NewPool(NewBundleRepository())
	root := makePkg("app", "1.0",
		Dependency{Name: "optional", InExtras: []string{"full"}})

	resolved, err := SimpleResolver{}.Resolve(root, pool, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].Name != "app" {
		t.Fatalf("expected only the root, got %v", names(resolved))
	}
}
