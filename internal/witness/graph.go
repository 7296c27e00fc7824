package witness

import (
	"log/slog"
	"slices"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/mechanism"
)

// Graph is the witness graph of one function. It owns all of its nodes.
type Graph struct {
	fn       *ir.Function
	strategy Strategy

	externals []*Node
	internals map[itarget.Identity]*Node
	order     []*Node // internal nodes in creation order
	nextID    int

	propagated bool

	// shared maps an identity to the witness materialized for it, so nodes
	// about the same value at the same place share one witness.
	shared map[itarget.Identity]itarget.Witness
	// building marks nodes whose materialization is in progress.
	building map[*Node]bool
}

// NewGraph returns an empty graph for fn that derives edges with s.
func NewGraph(fn *ir.Function, s Strategy) *Graph {
	return &Graph{
		fn:        fn,
		strategy:  s,
		internals: map[itarget.Identity]*Node{},
		shared:    map[itarget.Identity]itarget.Witness{},
		building:  map[*Node]bool{},
	}
}

// Function returns the function the graph describes.
func (g *Graph) Function() *ir.Function { return g.fn }

// Strategy returns the graph's strategy.
func (g *Graph) Strategy() Strategy { return g.strategy }

func (g *Graph) newNode(t *itarget.ITarget, external bool) *Node {
	g.nextID++
	return &Node{id: g.nextID, Target: t, external: external}
}

// InsertRequiredTarget adds t as an external node and lets the strategy
// derive its requirements. External nodes are never shared: inserting two
// equal targets yields two nodes.
func (g *Graph) InsertRequiredTarget(t *itarget.ITarget) *Node {
	n := g.newNode(t, true)
	g.externals = append(g.externals, n)
	g.propagated = false
	g.strategy.AddRequired(g, n)
	return n
}

// GetInternalNode returns the internal node for t's identity, creating it
// from t when none exists yet.
func (g *Graph) GetInternalNode(t *itarget.ITarget) *Node {
	id := t.Identity()
	if n, ok := g.internals[id]; ok {
		return n
	}
	n := g.newNode(t, false)
	g.internals[id] = n
	g.order = append(g.order, n)
	return n
}

// Externals returns the external nodes in insertion order.
func (g *Graph) Externals() []*Node { return g.externals }

// Internals returns the internal nodes in creation order.
func (g *Graph) Internals() []*Node { return g.order }

// Nodes returns every node, externals first.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.externals)+len(g.order))
	out = append(out, g.externals...)
	return append(out, g.order...)
}

// liveExternals returns the external nodes whose target is still valid.
func (g *Graph) liveExternals() []*Node {
	var out []*Node
	for _, n := range g.externals {
		if n.Target.IsValid() {
			out = append(out, n)
		}
	}
	return out
}

// Propagated reports whether flags have been propagated since the last
// insertion.
func (g *Graph) Propagated() bool { return g.propagated }

// PropagateFlags pushes every node's flags to its requirements until
// nothing changes. Invalid external targets contribute nothing.
//
// Flags only grow and there are four of them, so the walk is bounded by
// four visits per edge.
func (g *Graph) PropagateFlags() {
	queue := g.liveExternals()
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, r := range n.requirements {
			if r.Target.JoinFlags(n.Target) {
				queue = append(queue, r)
			}
		}
	}
	g.propagated = true
}

// Simplify runs the strategy's simplification. It must follow
// PropagateFlags.
func (g *Graph) Simplify() {
	if !g.propagated {
		itarget.Violation("Graph.Simplify", "flags of @%s have not been propagated", g.fn.Name())
	}
	g.strategy.SimplifyWitnessGraph(g)
}

// CreateWitnesses materializes a witness for every valid external node.
// Nodes shared between externals are materialized once.
func (g *Graph) CreateWitnesses(mc *mechanism.Context, m mechanism.Mechanism) {
	if !g.propagated {
		itarget.Violation("Graph.CreateWitnesses", "flags of @%s have not been propagated", g.fn.Name())
	}
	for _, n := range g.liveExternals() {
		g.strategy.CreateWitness(mc, m, g, n)
	}
	slog.Debug("witnesses created",
		"function", g.fn.Name(),
		"strategy", g.strategy.Name(),
		"mechanism", m.Name(),
		"witnesses", len(g.distinctWitnesses()))
}

// sharedWitness returns the witness already materialized for n's identity.
func (g *Graph) sharedWitness(n *Node) (itarget.Witness, bool) {
	w, ok := g.shared[n.Target.Identity()]
	return w, ok
}

// recordWitness remembers n's witness for later nodes of the same identity.
func (g *Graph) recordWitness(n *Node) {
	if w := n.Target.BoundWitness(); w != nil {
		if _, ok := g.shared[n.Target.Identity()]; !ok {
			g.shared[n.Target.Identity()] = w
		}
	}
}

// Sweep removes invalid external nodes and internal nodes no valid external
// node reaches through requirement edges. It returns how many nodes were
// removed.
func (g *Graph) Sweep() int {
	live := map[*Node]bool{}
	stack := g.liveExternals()
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if live[n] {
			continue
		}
		live[n] = true
		stack = append(stack, n.requirements...)
	}

	removed := 0
	dead := func(n *Node) bool {
		if live[n] {
			return false
		}
		n.clearRequirements()
		removed++
		return true
	}
	g.externals = slices.DeleteFunc(g.externals, dead)
	g.order = slices.DeleteFunc(g.order, func(n *Node) bool {
		if !dead(n) {
			return false
		}
		delete(g.internals, n.Target.Identity())
		return true
	})
	// drop any remaining references to removed nodes
	for _, n := range g.Nodes() {
		n.requiredBy = slices.DeleteFunc(n.requiredBy, func(x *Node) bool { return !live[x] })
	}
	return removed
}

// Stats summarizes the graph.
type Stats struct {
	Externals int `json:"externals"`
	Internals int `json:"internals"`
	Edges     int `json:"edges"`
	Sources   int `json:"sources"`
	Witnesses int `json:"witnesses"`
}

// Stats counts nodes, edges and distinct witnesses.
func (g *Graph) Stats() Stats {
	s := Stats{Externals: len(g.externals), Internals: len(g.order)}
	for _, n := range g.Nodes() {
		s.Edges += len(n.requirements)
		if len(n.requirements) == 0 {
			s.Sources++
		}
	}
	s.Witnesses = len(g.distinctWitnesses())
	return s
}

func (g *Graph) distinctWitnesses() []itarget.Witness {
	var out []itarget.Witness
	seen := map[itarget.Witness]bool{}
	for _, n := range g.Nodes() {
		if w := n.Target.BoundWitness(); w != nil && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}
