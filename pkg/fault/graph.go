package fault

import (
	"sort"
)

const (
	ownerPrefix = "owner:"
	lockPrefix  = "lock:"
)

// OwnerNode names the graph node of a lock owner
func OwnerNode(owner string) string {
	return ownerPrefix + owner
}

// LockNode names the graph node of a lock
func LockNode(lock string) string {
	return lockPrefix + lock
}

// Graph is a directed wait-for graph. An edge owner -> lock means the owner
// waits for the lock; lock -> owner means the owner holds it. Graph is not
// safe for concurrent use.
type Graph struct {
	edges map[string]map[string]struct{}
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{edges: make(map[string]map[string]struct{})}
}

// AddEdge adds from -> to unless it would close a cycle. In that case the
// edge is not added and the cycle is returned, starting and ending at from.
func (g *Graph) AddEdge(from, to string) []string {
	if cycle := g.closes(from, to); cycle != nil {
		return cycle
	}
	g.link(from, to)
	return nil
}

// Link adds from -> to unconditionally and returns the cycle it closed, if any
func (g *Graph) Link(from, to string) []string {
	cycle := g.closes(from, to)
	g.link(from, to)
	return cycle
}

// RemoveEdge deletes from -> to
func (g *Graph) RemoveEdge(from, to string) {
	out, ok := g.edges[from]
	if !ok {
		return
	}
	delete(out, to)
	if len(out) == 0 {
		delete(g.edges, from)
	}
}

// HasEdge reports whether from -> to exists
func (g *Graph) HasEdge(from, to string) bool {
	_, ok := g.edges[from][to]
	return ok
}

// Len returns the number of edges
func (g *Graph) Len() int {
	n := 0
	for _, out := range g.edges {
		n += len(out)
	}
	return n
}

// Path returns a path from -> ... -> to, or nil when to is unreachable
func (g *Graph) Path(from, to string) []string {
	visited := make(map[string]bool)
	var path []string

	var dfs func(n string) bool
	dfs = func(n string) bool {
		path = append(path, n)
		if n == to {
			return true
		}
		visited[n] = true
		for _, next := range g.successors(n) {
			if !visited[next] && dfs(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if dfs(from) {
		return path
	}
	return nil
}

// FindCycle scans the whole graph and returns one cycle, first node
// repeated at the end, or nil when the graph is acyclic
func (g *Graph) FindCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	var stack []string
	var cycle []string

	var dfs func(n string) bool
	dfs = func(n string) bool {
		color[n] = grey
		stack = append(stack, n)
		for _, next := range g.successors(n) {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case white:
				if dfs(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		return false
	}

	for _, n := range g.nodes() {
		if color[n] == white && dfs(n) {
			return cycle
		}
	}
	return nil
}

// closes returns the cycle from -> to would close
func (g *Graph) closes(from, to string) []string {
	if from == to {
		return []string{from, to}
	}
	path := g.Path(to, from)
	if path == nil {
		return nil
	}
	return append([]string{from}, path...)
}

func (g *Graph) link(from, to string) {
	out, ok := g.edges[from]
	if !ok {
		out = make(map[string]struct{})
		g.edges[from] = out
	}
	out[to] = struct{}{}
}

func (g *Graph) successors(n string) []string {
	out := g.edges[n]
	if len(out) == 0 {
		return nil
	}
	next := make([]string, 0, len(out))
	for s := range out {
		next = append(next, s)
	}
	sort.Strings(next)
	return next
}

func (g *Graph) nodes() []string {
	nodes := make([]string, 0, len(g.edges))
	for n := range g.edges {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	return nodes
}
