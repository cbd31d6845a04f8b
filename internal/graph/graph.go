// Package graph builds the dependency graph over declared resources and
// computes the deterministic order a convergence run walks them in.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/cloudkiln/kiln/internal/resource"
)

// CycleError reports a dependency cycle. It is a validation failure: a run
// that hits it has made no provider call.
type CycleError struct {
	// Members are the resource ids participating in the cycle, in path order.
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Members, " -> "))
}

// Graph is the acyclic dependency graph over a set of resources, with its
// topological order precomputed. Ties are broken by resource id so the same
// declaration always produces the same plan.
type Graph struct {
	dg    graph.Graph[string, string]
	nodes map[string]*resource.Resource
	order []string
}

// Build constructs the graph from declared resources. It fails on duplicate
// ids, references to undeclared resources, and cycles. Cycles are reported
// as *CycleError with the offending path.
func Build(resources []*resource.Resource) (*Graph, error) {
	nodes := make(map[string]*resource.Resource, len(resources))
	for _, r := range resources {
		if _, dup := nodes[r.ID]; dup {
			return nil, fmt.Errorf("duplicate resource id %q", r.ID)
		}
		nodes[r.ID] = r
	}

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	for _, id := range ids {
		if err := dg.AddVertex(id); err != nil {
			return nil, fmt.Errorf("add vertex %q: %w", id, err)
		}
	}

	// Edge direction is dependency -> dependent: a resource's dependencies
	// sort before it.
	for _, id := range ids {
		deps := append([]string(nil), nodes[id].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := nodes[dep]; !ok {
				return nil, fmt.Errorf("resource %q depends on undeclared resource %q", id, dep)
			}
			if err := dg.AddEdge(dep, id); err != nil {
				if cycle := describeCycle(dg, id, dep); cycle != nil {
					return nil, cycle
				}
				return nil, fmt.Errorf("add edge %q -> %q: %w", dep, id, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}

	return &Graph{dg: dg, nodes: nodes, order: order}, nil
}

// describeCycle reconstructs the cycle that adding dep -> id would close.
// The rejected edge means a path id -> ... -> dep already exists.
func describeCycle(dg graph.Graph[string, string], id, dep string) *CycleError {
	path, err := graph.ShortestPath(dg, id, dep)
	if err != nil || len(path) == 0 {
		// Edge rejection without a closing path means some other failure.
		return nil
	}
	return &CycleError{Members: append(path, id)}
}

// Order returns the create/update order: every resource appears after all
// members of its DependsOn set.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// ReverseOrder returns the destroy order, the exact reverse of Order.
func (g *Graph) ReverseOrder() []string {
	rev := make([]string, len(g.order))
	for i, id := range g.order {
		rev[len(g.order)-1-i] = id
	}
	return rev
}

// Resource returns the declared resource for an id.
func (g *Graph) Resource(id string) (*resource.Resource, bool) {
	r, ok := g.nodes[id]
	return r, ok
}

// Len returns the number of resources in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependents returns every resource that transitively depends on id, in
// graph order. The provisioner uses it to leave downstream resources Planned
// after a fatal upstream failure.
func (g *Graph) Dependents(id string) []string {
	reached := map[string]bool{}
	g.markDependents(id, reached)

	var out []string
	for _, cand := range g.order {
		if reached[cand] {
			out = append(out, cand)
		}
	}
	return out
}

func (g *Graph) markDependents(id string, reached map[string]bool) {
	for cand, r := range g.nodes {
		if reached[cand] {
			continue
		}
		for _, dep := range r.DependsOn {
			if dep == id {
				reached[cand] = true
				g.markDependents(cand, reached)
				break
			}
		}
	}
}
