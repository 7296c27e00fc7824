package witness

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/mechanism"
)

// materialize gives n a witness:
//
//	0 requirements             fresh witness from the mechanism
//	1 requirement              the requirement's witness, shared
//	phi merge, 2+ requirements witness phi with one incoming per edge
//	select, 2 requirements     witness select of both operands
//
// Any other shape is a contract violation.
func (g *Graph) materialize(mc *mechanism.Context, m mechanism.Mechanism, n *Node) {
	t := n.Target
	if t.HasBoundWitness() {
		return
	}
	if w, ok := g.sharedWitness(n); ok {
		t.SetBoundWitness(w)
		return
	}
	if g.building[n] {
		itarget.Violation("Graph.CreateWitnesses", "cyclic derivation without a merge at %s", n)
	}
	g.building[n] = true
	defer delete(g.building, n)

	reqs := n.requirements
	switch {
	case len(reqs) == 0:
		m.InsertWitness(mc, t)

	case len(reqs) == 1:
		g.materialize(mc, m, reqs[0])
		t.SetBoundWitness(reqs[0].Target.BoundWitness())

	case isOp(t.Instrumentee(), ir.OpPhi):
		phi := t.Instrumentee().(*ir.Instr)
		if len(reqs) != len(phi.Incoming) {
			itarget.Violation("Graph.CreateWitnesses", "%s has %d requirements for %d incoming values", n, len(reqs), len(phi.Incoming))
		}
		w := m.InsertWitnessPhi(mc, t)
		// The phi witness is visible before its inputs exist so that
		// loop-carried inputs can refer back to it.
		t.SetBoundWitness(w)
		g.recordWitness(n)
		for i, r := range reqs {
			g.materialize(mc, m, r)
			m.AddIncomingWitnessToPhi(mc, w, r.Target.BoundWitness(), phi.Incoming[i])
		}

	case isOp(t.Instrumentee(), ir.OpSelect) && len(reqs) == 2:
		g.materialize(mc, m, reqs[0])
		g.materialize(mc, m, reqs[1])
		t.SetBoundWitness(m.InsertWitnessSelect(mc, t, reqs[0].Target.BoundWitness(), reqs[1].Target.BoundWitness()))

	default:
		itarget.Violation("Graph.CreateWitnesses", "cannot materialize %s with %d requirements", n, len(reqs))
	}
	g.recordWitness(n)
}

func isOp(v ir.Value, op ir.Opcode) bool {
	i, ok := v.(*ir.Instr)
	return ok && i.Op == op
}
