package packages

import "strings"

// Dependency is a reference from one package to another, optionally
// constrained to a version range and gated on extras.
type Dependency struct {
	Name string
	// Constraint is empty or "*" for any version, "==v" for an exact
	// version, or ">=v" for a minimum version.
	Constraint string
	// InExtras lists the extras that must all be active for the
	// dependency to participate in resolution.
	InExtras []string
	// Activated is set by the resolver once the dependency has been
	// admitted into the graph.
	Activated bool
}

// ActiveIn reports whether the dependency participates given the set
// of active extras. A dependency without extras always participates.
func (d Dependency) ActiveIn(extras map[string]bool) bool {
	for _, extra := range d.InExtras {
		if !extras[extra] {
			return false
		}
	}
	return true
}

// Matches reports whether a canonical version satisfies the
// dependency constraint.
func (d Dependency) Matches(version string) bool {
	c := strings.TrimSpace(d.Constraint)
	switch {
	case c == "" || c == "*":
		return true
	case strings.HasPrefix(c, "=="):
		return CompareCanonical(version, strings.TrimSpace(c[2:])) == 0
	case strings.HasPrefix(c, ">="):
		return CompareCanonical(version, strings.TrimSpace(c[2:])) >= 0
	case strings.HasPrefix(c, ">"):
		return CompareCanonical(version, strings.TrimSpace(c[1:])) > 0
	case strings.HasPrefix(c, "<="):
		return CompareCanonical(version, strings.TrimSpace(c[2:])) <= 0
	case strings.HasPrefix(c, "<"):
		return CompareCanonical(version, strings.TrimSpace(c[1:])) < 0
	default:
		// A bare version is an exact match.
		return CompareCanonical(version, c) == 0
	}
}
