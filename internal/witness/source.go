package witness

import (
	"github.com/roach88/meminstrument/internal/mechanism"
)

// Source treats every node as a source: each target gets a witness computed
// from its own pointer. It suits backends such as lowfat that can derive
// bounds from any in-bounds pointer without tracking data flow.
//
// Source ignores Options.Simplify.
type Source struct{}

func (Source) Name() string { return NameSource }

// AddRequired adds no requirements.
func (Source) AddRequired(_ *Graph, n *Node) { n.MarkExpanded() }

// CreateWitness asks the mechanism for a fresh witness, reusing the one
// already created for the same (instrumentee, location).
func (Source) CreateWitness(mc *mechanism.Context, m mechanism.Mechanism, g *Graph, n *Node) {
	g.materialize(mc, m, n)
}

// SimplifyWitnessGraph sweeps invalidated targets and nothing else; a graph
// without edges has nothing to elide or coalesce. The sweep runs even when
// simplification is disabled, so Options.Simplify has no effect on Source.
func (Source) SimplifyWitnessGraph(g *Graph) { g.Sweep() }
