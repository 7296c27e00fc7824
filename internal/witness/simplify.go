package witness

import (
	"log/slog"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/scc"
)

// noCheckFlags are the flags that make a target's witness matter on its own.
const noCheckFlags = itarget.CheckBoth | itarget.CheckTemporal | itarget.RequiresExplicitBounds

// ElideNoCheckTargets invalidates external targets that need a witness but
// no check, when every derivation step behind them preserves the pointer
// value (casts, zero GEPs, phis, selects). Such a pointer still carries the
// bounds of the source it came from, so nothing has to be materialized for
// it. Returns the number of targets invalidated.
func (g *Graph) ElideNoCheckTargets() int {
	elided := 0
	for _, n := range g.liveExternals() {
		if n.Target.Flags().Any(noCheckFlags) {
			continue
		}
		if valuePreserving(n) {
			n.Target.Invalidate()
			elided++
		}
	}
	if elided > 0 {
		slog.Debug("elided witness-only targets", "function", g.fn.Name(), "count", elided)
	}
	return elided
}

// valuePreserving reports whether no node reachable from n through
// requirement edges is derived by non-trivial pointer arithmetic.
func valuePreserving(n *Node) bool {
	seen := map[*Node]bool{}
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if len(cur.requirements) > 0 && offsetting(cur.Target.Instrumentee()) {
			return false
		}
		stack = append(stack, cur.requirements...)
	}
	return true
}

// offsetting reports whether v is a GEP that moves its base pointer.
func offsetting(v ir.Value) bool {
	switch x := v.(type) {
	case *ir.Instr:
		return x.Op == ir.OpGEP && !x.HasAllZeroIndices()
	case *ir.ConstExpr:
		// a zero GEP strips down to its base
		return x.Op == ir.OpGEP && ir.StripPointerCasts(x) == v
	}
	return false
}

// CoalesceMergeNodes computes a representative for every node and points
// nodes whose representative is another node straight at it:
//
//   - a node with no requirements represents itself
//   - a node whose requirements all resolve to one representative shares it
//   - otherwise a node represents itself
//
// Nodes are visited requirements-first, one strongly connected component at
// a time. A phi cycle whose inputs from outside the cycle all resolve to one
// representative collapses onto it entirely. Returns the number of nodes
// rewritten; run Sweep afterwards to drop the nodes this disconnects.
func (g *Graph) CoalesceMergeNodes() int {
	nodes := append(g.liveExternals(), g.order...)
	succ := func(n *Node) []*Node { return n.requirements }
	rep := make(map[*Node]*Node, len(nodes))

	for _, comp := range scc.Tarjan(nodes, succ) {
		if !scc.IsCyclic(comp, succ) {
			n := comp[0]
			if r, ok := commonRep(rep, n.requirements); ok {
				rep[n] = r
			} else {
				rep[n] = n
			}
			continue
		}
		coalesceCycle(rep, comp)
	}

	rewritten := 0
	for _, n := range nodes {
		r := rep[n]
		if r == n || r == nil {
			continue
		}
		if len(n.requirements) == 1 && n.requirements[0] == r {
			continue
		}
		n.replaceRequirements(r)
		rewritten++
	}
	if rewritten > 0 {
		slog.Debug("coalesced merge nodes", "function", g.fn.Name(), "count", rewritten)
	}
	return rewritten
}

// commonRep returns the single representative shared by reqs. It fails for
// an empty set or disagreeing requirements.
func commonRep(rep map[*Node]*Node, reqs []*Node) (*Node, bool) {
	var common *Node
	for _, r := range reqs {
		if common != nil && rep[r] != common {
			return nil, false
		}
		common = rep[r]
	}
	return common, common != nil
}

func coalesceCycle(rep map[*Node]*Node, comp []*Node) {
	member := make(map[*Node]bool, len(comp))
	var outside []*Node
	for _, n := range comp {
		member[n] = true
	}
	for _, n := range comp {
		for _, r := range n.requirements {
			if !member[r] {
				outside = append(outside, r)
			}
		}
	}
	if r, ok := commonRep(rep, outside); ok {
		for _, n := range comp {
			rep[n] = r
		}
		return
	}

	for _, n := range comp {
		if len(n.requirements) > 1 {
			rep[n] = n
		}
	}
	for _, n := range comp {
		if _, done := rep[n]; done {
			continue
		}
		// follow single requirements until a resolved node; a loop of
		// single requirements with no way out represents itself
		seen := map[*Node]bool{}
		cur := n
		for {
			seen[cur] = true
			next := cur.requirements[0]
			if r, ok := rep[next]; ok {
				rep[n] = r
				break
			}
			if seen[next] {
				rep[n] = n
				break
			}
			cur = next
		}
	}
}
