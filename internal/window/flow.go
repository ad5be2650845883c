package window

import "gadgetscan/internal/insn"

// EdgeKind distinguishes fallthrough edges from heuristic branch edges.
type EdgeKind uint8

const (
	Sequential EdgeKind = iota
	Branch
)

func (k EdgeKind) String() string {
	if k == Branch {
		return "branch"
	}
	return "sequential"
}

type Edge struct {
	From, To int
	Kind     EdgeKind
}

// FlowGraph is a coarse per-window control-flow approximation. Every
// instruction is a node with a sequential edge to its successor. A branch
// gets one extra edge to the nearest load, store or compute instruction
// within the lookahead, standing in for an unresolved target.
type FlowGraph struct {
	Nodes []insn.SemType
	Edges []Edge
	succ  [][]int
}

// DefaultLookahead bounds the branch-target search to [i+2, i+10).
const DefaultLookahead = 10

// BuildFlowGraph builds the graph for ins. lookahead <= 0 selects DefaultLookahead.
func BuildFlowGraph(ins []insn.Instruction, lookahead int) *FlowGraph {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	g := &FlowGraph{
		Nodes: make([]insn.SemType, len(ins)),
		succ:  make([][]int, len(ins)),
	}
	for i, in := range ins {
		g.Nodes[i] = in.SemType()
	}
	for i := 0; i+1 < len(ins); i++ {
		g.addEdge(i, i+1, Sequential)
		if g.Nodes[i] != insn.SemBranch {
			continue
		}
		for j := i + 2; j < len(ins) && j < i+lookahead; j++ {
			if t := g.Nodes[j]; t == insn.SemLoad || t == insn.SemStore || t == insn.SemCompute {
				g.addEdge(i, j, Branch)
				break
			}
		}
	}
	return g
}

func (g *FlowGraph) addEdge(from, to int, kind EdgeKind) {
	g.Edges = append(g.Edges, Edge{From: from, To: to, Kind: kind})
	g.succ[from] = append(g.succ[from], to)
}

func (g *FlowGraph) OutDegree(i int) int { return len(g.succ[i]) }

// ShortestPaths returns, for every node reachable from src within cutoff
// edges, the breadth-first shortest path to it. Paths are listed in
// discovery order and start with the single-node path [src].
func (g *FlowGraph) ShortestPaths(src, cutoff int) [][]int {
	if src < 0 || src >= len(g.Nodes) {
		return nil
	}
	pred := map[int]int{src: -1}
	order := []int{src}
	frontier := []int{src}
	for depth := 0; depth < cutoff && len(frontier) > 0; depth++ {
		var next []int
		for _, n := range frontier {
			for _, s := range g.succ[n] {
				if _, seen := pred[s]; seen {
					continue
				}
				pred[s] = n
				order = append(order, s)
				next = append(next, s)
			}
		}
		frontier = next
	}

	paths := make([][]int, 0, len(order))
	for _, n := range order {
		var p []int
		for c := n; c >= 0; c = pred[c] {
			p = append(p, c)
		}
		for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
			p[i], p[j] = p[j], p[i]
		}
		paths = append(paths, p)
	}
	return paths
}

// NodeTypes returns the set of semantic types present in the graph.
func (g *FlowGraph) NodeTypes() map[insn.SemType]bool {
	m := make(map[insn.SemType]bool)
	for _, t := range g.Nodes {
		m[t] = true
	}
	return m
}

// EdgeKinds returns the set of edge kinds present in the graph.
func (g *FlowGraph) EdgeKinds() map[EdgeKind]bool {
	m := make(map[EdgeKind]bool)
	for _, e := range g.Edges {
		m[e.Kind] = true
	}
	return m
}
