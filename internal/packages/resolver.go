package packages

// Resolver turns a root package and a repository pool into the full
// ordered dependency closure. Failures are fatal for the run; there
// is no backtracking search.
type Resolver interface {
	Resolve(root *Package, pool *Pool, extras []string, includeBuild bool) ([]*Package, error)
}

// SimpleResolver resolves each dependency name to the highest
// available version satisfying its constraint, walking the closure
// breadth-first. The result is topologically ordered, dependencies
// first, root last.
type SimpleResolver struct{}

func (SimpleResolver) Resolve(root *Package, pool *Pool, extras []string, includeBuild bool) ([]*Package, error) {
	active := make(map[string]bool, len(extras))
	for _, extra := range extras {
		active[extra] = true
	}

	resolved := map[string]bool{root.Name: true}
	var deps []*Package
	queue := []*Package{root}
	for len(queue) > 0 {
		pkg := queue[0]
		queue = queue[1:]

		// Admission is recorded on the package's own dependency
		// structs, so both closure flavors mark the same elements.
		lists := [][]Dependency{pkg.Requires}
		if includeBuild {
			lists = append(lists, pkg.BuildRequires)
		}
		for _, wanted := range lists {
			for i := range wanted {
				dep := &wanted[i]
				if !dep.ActiveIn(active) {
					continue
				}
				dep.Activated = true
				if resolved[dep.Name] {
					continue
				}
				found, err := pool.Package(*dep)
				if err != nil {
					return nil, err
				}
				resolved[dep.Name] = true
				deps = append(deps, found)
				queue = append(queue, found)
			}
		}
	}

	// Discovery order keeps the graph walk deterministic; root last.
	pkgs := append(deps, root)

	graph, err := BuildGraph(pkgs, extras, includeBuild)
	if err != nil {
		return nil, err
	}
	return graph.TopoSort()
}
