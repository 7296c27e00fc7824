package witness

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/mechanism"
)

// AfterInflow follows a pointer back through casts, pointer arithmetic,
// selects and phis to the places its value flowed in from: loads, calls,
// allocations, arguments and globals. Only those sources get fresh
// witnesses; everything else is derived from them.
type AfterInflow struct {
	// Simplify enables the graph simplifications before materialization.
	Simplify bool
}

func (*AfterInflow) Name() string { return NameAfterInflow }

// AddRequired expands n and everything it transitively requires. The walk
// uses an explicit worklist; a node is marked expanded before its
// requirements are pushed, so phi cycles terminate.
func (s *AfterInflow) AddRequired(g *Graph, n *Node) {
	work := []*Node{n}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if cur.MarkExpanded() {
			continue
		}
		work = append(work, s.expand(g, cur)...)
	}
}

// link links n to the internal node for (v, at) and returns it.
func link(g *Graph, n *Node, v ir.Value, at *ir.Instr) *Node {
	r := g.GetInternalNode(itarget.NewIntermediate(v, at))
	n.AddRequirement(r)
	return r
}

// expand derives the direct requirements of n and returns the nodes that
// still need expanding.
func (s *AfterInflow) expand(g *Graph, n *Node) []*Node {
	v := n.Target.Instrumentee()
	at := n.Target.Location()
	if v.Type().IsPointerVector() {
		itarget.Violation("AfterInflow.AddRequired", "vector of pointers %s is not supported", ir.Ref(v))
	}

	switch x := v.(type) {
	case *ir.Argument, *ir.Global, *ir.Function, *ir.ConstNull, *ir.Undef:
		return nil
	case *ir.ConstExpr:
		switch x.Op {
		case ir.OpGEP, ir.OpBitCast:
			return []*Node{link(g, n, x.Operands[0], at)}
		}
		itarget.Violation("AfterInflow.AddRequired", "constant expression %s is not supported", x.Name())
	case *ir.Instr:
		return s.expandInstr(g, n, x, at)
	}
	itarget.Violation("AfterInflow.AddRequired", "%s is not a pointer value", ir.Ref(v))
	return nil
}

func (s *AfterInflow) expandInstr(g *Graph, n *Node, x *ir.Instr, at *ir.Instr) []*Node {
	switch x.Op {
	case ir.OpAlloca, ir.OpLoad, ir.OpCall, ir.OpIntToPtr, ir.OpLandingPad, ir.OpExtractValue:
		return nil

	case ir.OpPhi:
		if at != x {
			// Route every use of the phi through its (phi, phi) merge node
			// so a loop-carried phi is expanded once.
			return []*Node{link(g, n, x, x)}
		}
		next := make([]*Node, 0, len(x.Operands))
		for i, in := range x.Operands {
			term := x.Incoming[i].Terminator()
			if term == nil {
				itarget.Violation("AfterInflow.AddRequired", "predecessor %%%s of %s has no terminator", x.Incoming[i].Name, ir.Ref(x))
			}
			next = append(next, link(g, n, in, term))
		}
		return next

	case ir.OpSelect:
		return []*Node{
			link(g, n, x.Operands[1], at),
			link(g, n, x.Operands[2], at),
		}

	case ir.OpGEP, ir.OpBitCast, ir.OpAddrSpaceCast:
		return []*Node{link(g, n, x.Operands[0], at)}
	}
	itarget.Violation("AfterInflow.AddRequired", "%s producing %s is not supported", x.Op, ir.Ref(x))
	return nil
}

// CreateWitness materializes n by the shape of its requirements.
func (s *AfterInflow) CreateWitness(mc *mechanism.Context, m mechanism.Mechanism, g *Graph, n *Node) {
	g.materialize(mc, m, n)
}

// SimplifyWitnessGraph elides witness-only targets that need nothing new,
// collapses merge nodes whose inputs agree, and sweeps dead nodes.
func (s *AfterInflow) SimplifyWitnessGraph(g *Graph) {
	if !s.Simplify {
		return
	}
	g.ElideNoCheckTargets()
	g.CoalesceMergeNodes()
	g.Sweep()
}
