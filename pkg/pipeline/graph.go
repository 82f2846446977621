package pipeline

import (
	"container/heap"
	"context"
	"path/filepath"
	"sort"
)

// Stage is one step of the training pipeline. Inputs and Outputs are artifact
// paths; a stage depends on every stage that produces one of its inputs.
type Stage struct {
	Name    string
	Inputs  []string
	Outputs []string
	// Commands run in order; each entry is an argv.
	Commands [][]string
	// Precheck runs before any command. An error fails the stage without
	// running it.
	Precheck func(ctx context.Context) error
	// Finish runs after every command succeeded.
	Finish func(ctx context.Context) error
}

// Edge is a dependency: To consumes an artifact that From produces.
type Edge struct {
	From     string
	To       string
	Artifact string
}

type stageNode struct {
	stage Stage
	index int
}

// Graph is an immutable, validated stage DAG. It is safe for concurrent reads.
type Graph struct {
	byName   map[string]*stageNode
	nodes    []*stageNode // sorted by name
	edges    []Edge
	producer map[string]string

	outgoing [][]int
	incoming [][]int
	indeg    []int
	depth    []int
}

// NewGraph builds the graph from the artifacts each stage declares.
//
// Validation rejects:
//   - no stages, empty or duplicate stage names
//   - an artifact produced by more than one stage
//   - a stage consuming its own output
//   - any cycle
func NewGraph(stages []Stage) (*Graph, error) {
	if len(stages) == 0 {
		return nil, invalidf("no stages")
	}

	byName := make(map[string]*stageNode, len(stages))
	nodes := make([]*stageNode, 0, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, invalidf("stage name is required")
		}
		if _, exists := byName[s.Name]; exists {
			return nil, invalidf("duplicate stage name: %q", s.Name)
		}
		n := &stageNode{stage: s}
		byName[s.Name] = n
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].stage.Name < nodes[j].stage.Name })
	for i, n := range nodes {
		n.index = i
	}

	producer := make(map[string]string)
	for _, n := range nodes {
		for _, out := range n.stage.Outputs {
			key := filepath.Clean(out)
			if prev, ok := producer[key]; ok {
				return nil, invalidf("artifact %q produced by both %q and %q", out, prev, n.stage.Name)
			}
			producer[key] = n.stage.Name
		}
	}

	g := &Graph{
		byName:   byName,
		nodes:    nodes,
		producer: producer,
		outgoing: make([][]int, len(nodes)),
		incoming: make([][]int, len(nodes)),
		indeg:    make([]int, len(nodes)),
	}

	type pair struct{ from, to int }
	seen := make(map[pair]struct{})
	for _, n := range nodes {
		for _, in := range n.stage.Inputs {
			from, ok := producer[filepath.Clean(in)]
			if !ok {
				continue
			}
			if from == n.stage.Name {
				return nil, invalidf("self-loop: %q consumes its own output %q", from, in)
			}
			p := pair{byName[from].index, n.index}
			g.edges = append(g.edges, Edge{From: from, To: n.stage.Name, Artifact: in})
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			g.outgoing[p.from] = append(g.outgoing[p.from], p.to)
			g.incoming[p.to] = append(g.incoming[p.to], p.from)
			g.indeg[p.to]++
		}
	}
	for i := range nodes {
		sort.Ints(g.outgoing[i])
		sort.Ints(g.incoming[i])
	}
	sort.Slice(g.edges, func(i, j int) bool {
		a, b := g.edges[i], g.edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Artifact < b.Artifact
	})

	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	return g, nil
}

// Stage returns a stage by name.
func (g *Graph) Stage(name string) (Stage, bool) {
	n, ok := g.byName[name]
	if !ok {
		return Stage{}, false
	}
	return n.stage, true
}

// Names returns the stage names in sorted order.
func (g *Graph) Names() []string {
	out := make([]string, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.stage.Name
	}
	return out
}

// Edges returns the artifact edges, sorted.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Dependencies returns the stages name directly depends on.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.namesOf(g.incoming[n.index])
}

// Dependents returns every stage reachable from name, sorted.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	seen := make([]bool, len(g.nodes))
	var idx []int
	queue := append([]int(nil), g.outgoing[n.index]...)
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		if seen[u] {
			continue
		}
		seen[u] = true
		idx = append(idx, u)
		queue = append(queue, g.outgoing[u]...)
	}
	sort.Ints(idx)
	return g.namesOf(idx)
}

// ExternalInputs lists inputs no stage produces. They must exist before the
// pipeline runs.
func (g *Graph) ExternalInputs() []string {
	set := make(map[string]struct{})
	for _, n := range g.nodes {
		for _, in := range n.stage.Inputs {
			if _, ok := g.producer[filepath.Clean(in)]; !ok {
				set[in] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(set))
	for in := range set {
		out = append(out, in)
	}
	sort.Strings(out)
	return out
}

// Depth is the length of the longest path from any root to the stage.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.byName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.index], true
}

// TopologicalOrder returns a deterministic topological ordering of stage names.
func (g *Graph) TopologicalOrder() []string {
	return g.namesOf(g.topoOrderIndices())
}

func (g *Graph) namesOf(idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = g.nodes[j].stage.Name
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			depth[u] = max(depth[u], depth[p]+1)
		}
	}
	return depth
}

// validateAcyclic proves the graph has no cycles using Kahn's algorithm and
// extracts one cycle for the error when it does.
func (g *Graph) validateAcyclic() error {
	if len(g.topoOrderIndices()) == len(g.nodes) {
		return nil
	}
	return cycleError(g.findCycle())
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrderIndices is Kahn's algorithm with a min-heap ready queue, so ties
// break by name.
func (g *Graph) topoOrderIndices() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle walks the graph depth first and returns one cycle as stage names,
// first and last entry equal.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.nodes))
	parent := make([]int, len(g.nodes))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// Back edge u -> v: walk parents from u up to v.
				path := []int{u}
				for cur := u; cur != v; {
					cur = parent[cur]
					path = append(path, cur)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				cycle = append(path, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.nodes {
		if color[i] == white && dfs(i) {
			break
		}
	}
	return g.namesOf(cycle)
}
