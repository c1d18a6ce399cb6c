package packages

import "fmt"

// UnresolvedReferenceError reports a dependency edge pointing at a
// package absent from the graph.
type UnresolvedReferenceError struct {
	Ref string
	In  string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("reference to an undefined package %s in %s", e.Ref, e.In)
}

// CycleError reports a dependency cycle.
type CycleError struct {
	Vertex string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("detected dependency cycle on %s", e.Vertex)
}

// Graph is a dependency graph over a fixed set of packages.
type Graph struct {
	order []string
	nodes map[string]*graphNode
}

type graphNode struct {
	pkg  *Package
	deps []string
}

// BuildGraph constructs the graph induced by the activated requires
// edges of pkgs (plus build requires when includeBuild is set). Every
// edge must point at a package in pkgs; a dangling edge fails with
// *UnresolvedReferenceError before any ordering is attempted.
func BuildGraph(pkgs []*Package, extras []string, includeBuild bool) (*Graph, error) {
	active := make(map[string]bool, len(extras))
	for _, extra := range extras {
		active[extra] = true
	}

	g := &Graph{nodes: make(map[string]*graphNode, len(pkgs))}
	for _, pkg := range pkgs {
		if _, dup := g.nodes[pkg.Name]; dup {
			return nil, fmt.Errorf("duplicate package %s in graph", pkg.Name)
		}
		g.order = append(g.order, pkg.Name)
		g.nodes[pkg.Name] = &graphNode{pkg: pkg}
	}

	for _, name := range g.order {
		node := g.nodes[name]
		deps := node.pkg.Requires
		if includeBuild {
			deps = append(append([]Dependency{}, deps...), node.pkg.BuildRequires...)
		}
		for _, dep := range deps {
			if !dep.ActiveIn(active) {
				continue
			}
			if _, ok := g.nodes[dep.Name]; !ok {
				return nil, &UnresolvedReferenceError{Ref: dep.Name, In: name}
			}
			node.deps = append(node.deps, dep.Name)
		}
	}
	return g, nil
}

// TopoSort returns the packages in dependency order, dependencies
// before dependents. The traversal is a deterministic depth-first
// walk in insertion order; re-entering an in-progress vertex fails
// with *CycleError.
func (g *Graph) TopoSort() ([]*Package, error) {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	sorted := make([]*Package, 0, len(g.order))

	var visit func(name string) error
	visit = func(name string) error {
		if visiting[name] {
			return &CycleError{Vertex: name}
		}
		if visited[name] {
			return nil
		}
		visiting[name] = true
		for _, dep := range g.nodes[name].deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		delete(visiting, name)
		visited[name] = true
		sorted = append(sorted, g.nodes[name].pkg)
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return sorted, nil
}
