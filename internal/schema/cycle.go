package schema

import (
	"fmt"
	"slices"
	"strings"
)

// CycleWarning reports a group of entities whose lookups reference each
// other. Such cycles are expected: the import engine splits the references
// off and applies them after every record in the group exists. The warning
// tells an operator which entities will need a reconciliation pass.
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeLookupCycles finds strongly connected components in the lookup
// graph (entity -> lookup/customer targets). Owner lookups are ignored
// since owner attributes are never imported.
//
// Each component with more than one entity, or a single entity that looks
// itself up (parent account, manager contact), yields one warning. Output
// is ordered by the first entity of each path.
func AnalyzeLookupCycles(c *Catalog) []CycleWarning {
	graph := buildLookupGraph(c)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph) {
		if len(scc) > 1 || hasSelfLoop(scc[0], graph) {
			warnings = append(warnings, sccToWarning(scc, graph))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	return warnings
}

type lookupGraph map[string][]string

func buildLookupGraph(c *Catalog) lookupGraph {
	graph := make(lookupGraph)
	for _, e := range c.Entities() {
		if graph[e.LogicalName] == nil {
			graph[e.LogicalName] = []string{}
		}
		for _, a := range e.Attributes {
			if a.Type != TypeLookup && a.Type != TypeCustomer {
				continue
			}
			for _, t := range a.Targets {
				if _, ok := c.Entity(t); !ok {
					continue
				}
				if !slices.Contains(graph[e.LogicalName], t) {
					graph[e.LogicalName] = append(graph[e.LogicalName], t)
				}
			}
		}
		slices.Sort(graph[e.LogicalName])
	}
	return graph
}

func hasSelfLoop(node string, graph lookupGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in sorted order so the result is deterministic.
func tarjanSCC(graph lookupGraph) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(graph))
	for n := range graph {
		nodes = append(nodes, n)
	}
	slices.Sort(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

func sccToWarning(scc []string, graph lookupGraph) CycleWarning {
	if len(scc) == 1 {
		return CycleWarning{
			Path:    []string{scc[0], scc[0]},
			Message: fmt.Sprintf("self-referencing lookup: %s → %s", scc[0], scc[0]),
			Level:   "info",
		}
	}
	path := reconstructCyclePath(scc, graph)
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("lookup cycle: %s", strings.Join(path, " → ")),
		Level:   "info",
	}
}

// reconstructCyclePath walks edges inside the component from its first
// (alphabetically smallest) member until it returns to the start.
func reconstructCyclePath(scc []string, graph lookupGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := map[string]bool{}
	for {
		visited[current] = true
		next := ""
		for _, nb := range graph[current] {
			if nb == start && len(path) > 1 {
				next = nb
				break
			}
		}
		if next == "" {
			for _, nb := range graph[current] {
				if members[nb] && !visited[nb] {
					next = nb
					break
				}
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
