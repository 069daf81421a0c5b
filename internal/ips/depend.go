package ips

import "fmt"

// DependencyKind is the value of a depend action's type= property.
type DependencyKind int

// Supported dependency kinds.
const (
	DependIncorporate DependencyKind = iota
	DependRequire
	DependRequireAny
	DependGroup
	DependGroupAny
	DependOptional
	DependConditional
)

var dependencyKindNames = map[DependencyKind]string{
	DependIncorporate: "incorporate",
	DependRequire:     "require",
	DependRequireAny:  "require-any",
	DependGroup:       "group",
	DependGroupAny:    "group-any",
	DependOptional:    "optional",
	DependConditional: "conditional",
}

// ParseDependencyKind maps a type= value onto a DependencyKind.
func ParseDependencyKind(s string) (DependencyKind, error) {
	for kind, name := range dependencyKindNames {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown depend type %q", s)
}

func (k DependencyKind) String() string {
	if name, ok := dependencyKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("DependencyKind(%d)", int(k))
}

// Traversal describes how the planner follows an edge of a given kind.
type Traversal struct {
	// Enqueue is false for edges that only constrain versions.
	Enqueue bool
	// Optional edges may fail to resolve without failing the plan.
	Optional bool
}

// Traversal returns the planner policy for the kind. Alternatives (require-any,
// group, group-any) are all followed; picking one is left to pkg(1) at install
// time. Conditional predicates are not evaluated and always apply.
func (k DependencyKind) Traversal() Traversal {
	switch k {
	case DependIncorporate:
		return Traversal{}
	case DependOptional:
		return Traversal{Enqueue: true, Optional: true}
	default:
		return Traversal{Enqueue: true}
	}
}

// Edge is a single dependency target the planner should consider.
type Edge struct {
	FMRI     string
	Optional bool
}

// Edges expands a depend action into the targets to enqueue.
func (d *DependAction) Edges() []Edge {
	t := d.Kind.Traversal()
	if !t.Enqueue {
		return nil
	}
	edges := make([]Edge, 0, len(d.FMRIs))
	for _, fmri := range d.FMRIs {
		edges = append(edges, Edge{FMRI: fmri, Optional: t.Optional})
	}
	return edges
}
