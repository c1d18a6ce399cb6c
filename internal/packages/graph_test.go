package packages

import (
	"errors"
	"testing"
)

func makePkg(name, version string, requires ...Dependency) *Package {
	return &Package{
		Name:     name,
		Version:  version,
		Requires: requires,
	}
}

func names(pkgs []*Package) []string {
	out := make([]string, len(pkgs))
	for i, pkg := range pkgs {
		out[i] = pkg.Name
	}
	return out
}

func indexOf(list []string, name string) int {
	for i, n := range list {
		if n == name {
			return i
		}
	}
	return -1
}

func TestTopoSortDependenciesFirst(t *testing.T) {
	pkgs := []*Package{
		makePkg("app", "1.0", Dependency{Name: "libb"}, Dependency{Name: "liba"}),
		makePkg("libb", "1.0", Dependency{Name: "liba"}),
		makePkg("liba", "1.0"),
	}
	graph, err := BuildGraph(pkgs, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	sorted, err := graph.TopoSort()
	if err != nil {
		t.Fatal(err)
	}
	order := names(sorted)
	if indexOf(order, "liba") > indexOf(order, "libb") {
		t.Errorf("liba must precede libb: %v", order)
	}
	if indexOf(order, "libb") > indexOf(order, "app") {
		t.Errorf("libb must precede app: %v", order)
	}
}

func TestTopoSortDeterministic(t *testing.T) {
	build := func() []string {
		pkgs := []*Package{
			makePkg("app", "1.0", Dependency{Name: "x"}, Dependency{Name: "y"}, Dependency{Name: "z"}),
			makePkg("x", "1.0"),
			makePkg("y", "1.0"),
			makePkg("z", "1.0"),
		}
		graph, err := BuildGraph(pkgs, nil, false)
		if err != nil {
			t.Fatal(err)
		}
		sorted, err := graph.TopoSort()
		if err != nil {
			t.Fatal(err)
		}
		return names(sorted)
	}
	first := build()
	for i := 0; i < 10; i++ {
		next := build()
		for j := range first {
			if first[j] != next[j] {
				t.Fatalf("ordering changed between runs: %v vs %v", first, next)
			}
		}
	}
}

func TestBuildGraphUnresolvedReference(t *testing.T) {
	pkgs := []*Package{
		makePkg("app", "1.0", Dependency{Name: "missing"}),
	}
	_, err := BuildGraph(pkgs, nil, false)
	var unresolved *UnresolvedReferenceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedReferenceError, got %v", err)
	}
	if unresolved.Ref != "missing" || unresolved.In != "app" {
		t.Fatalf("unexpected error detail: %+v", unresolved)
	}
}

func TestTopoSortCycle(t *testing.T) {
	pkgs := []*Package{
		makePkg("a", "1.0", Dependency{Name: "b"}),
		makePkg("b", "1.0", Dependency{Name: "a"}),
	}
	graph, err := BuildGraph(pkgs, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	_, err = graph.TopoSort()
	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestBuildGraphExtrasGating(t *testing.T) {
	pkgs := []*Package{
		makePkg("app", "1.0", Dependency{Name: "optional", InExtras: []string{"full"}}),
	}

	// Inactive extra: the edge (and its dangling target) is ignored.
	if _, err := BuildGraph(pkgs, nil, false); err != nil {
		t.Fatalf("inactive extra edge must be skipped: %v", err)
	}

	// Active extra: the edge participates and now dangles.
	_, err := BuildGraph(pkgs, []string{"full"}, false)
	var unresolved *UnresolvedReferenceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedReferenceError, got %v", err)
	}
}

func TestBuildGraphIncludesBuildRequires(t *testing.T) {
	app := makePkg("app", "1.0")
	app.BuildRequires = []Dependency{{Name: "make"}}
	pkgs := []*Package{app, makePkg("make", "4.3")}

	graph, err := BuildGraph(pkgs, nil, true)
	if err != nil {
		t.Fatal(err)
	}
	sorted, err := graph.TopoSort()
	if err != nil {
		t.Fatal(err)
	}
	order := names(sorted)
	if indexOf(order, "make") > indexOf(order, "app") {
		t.Errorf("build requirement must precede dependent: %v", order)
	}

	// Runtime graph must not see the build edge.
	runtime, err := BuildGraph([]*Package{app}, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := runtime.TopoSort(); err != nil {
		t.Fatal(err)
	}
}
