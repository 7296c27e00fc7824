package witness

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/mechanism"
)

// Strategy decides how requirement edges are derived from a value's
// defining operation and how nodes are materialized.
type Strategy interface {
	Name() string
	// AddRequired derives n's requirements, creating internal nodes through
	// Graph.GetInternalNode. It must be idempotent per node.
	AddRequired(g *Graph, n *Node)
	// CreateWitness materializes n's witness, recursing into its
	// requirements as needed. Already witnessed nodes are left alone.
	CreateWitness(mc *mechanism.Context, m mechanism.Mechanism, g *Graph, n *Node)
	// SimplifyWitnessGraph may rewrite the graph between propagation and
	// materialization.
	SimplifyWitnessGraph(g *Graph)
}

// Strategy names accepted by NewStrategy.
const (
	NameAfterInflow = "after-inflow"
	NameSource      = "source"
)

// StrategyNames lists the available strategies.
func StrategyNames() []string { return []string{NameAfterInflow, NameSource} }

// Options configure strategy construction.
type Options struct {
	// Simplify enables no-check elision and merge-node coalescing.
	Simplify bool
}

// NewStrategy constructs the named strategy.
func NewStrategy(name string, opts Options) (Strategy, error) {
	switch name {
	case NameAfterInflow:
		return &AfterInflow{Simplify: opts.Simplify}, nil
	case NameSource:
		return Source{}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q (want one of %s)", name, strings.Join(StrategyNames(), ", "))
}
