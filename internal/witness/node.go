package witness

import (
	"fmt"
	"slices"

	"github.com/roach88/meminstrument/internal/itarget"
)

// Node is one vertex of a witness graph. It wraps exactly one target.
type Node struct {
	id       int
	Target   *itarget.ITarget
	external bool

	requirements []*Node
	requiredBy   []*Node

	// expanded is set before the strategy looks at the node's
	// requirements, so cyclic data flow terminates.
	expanded bool
}

// ID is the node's creation index within its graph.
func (n *Node) ID() int { return n.id }

// External reports whether the node wraps a caller-visible target.
func (n *Node) External() bool { return n.external }

// Requirements returns the nodes this node's witness is derived from, in
// order. For phi merge nodes the order follows the phi's incoming edges.
func (n *Node) Requirements() []*Node { return n.requirements }

// RequiredBy returns the nodes that list n as a requirement.
func (n *Node) RequiredBy() []*Node { return n.requiredBy }

// Expanded reports whether the strategy has derived n's requirements.
func (n *Node) Expanded() bool { return n.expanded }

// MarkExpanded records that n's requirements have been (or are being)
// derived and reports whether it was already marked.
func (n *Node) MarkExpanded() (already bool) {
	already = n.expanded
	n.expanded = true
	return already
}

// AddRequirement appends r to n's requirements and keeps the reverse index
// in step.
func (n *Node) AddRequirement(r *Node) {
	n.requirements = append(n.requirements, r)
	if !slices.Contains(r.requiredBy, n) {
		r.requiredBy = append(r.requiredBy, n)
	}
}

// replaceRequirements drops every requirement edge of n and points it at rep
// alone.
func (n *Node) replaceRequirements(rep *Node) {
	n.clearRequirements()
	n.AddRequirement(rep)
}

func (n *Node) clearRequirements() {
	for _, r := range n.requirements {
		r.requiredBy = slices.DeleteFunc(r.requiredBy, func(x *Node) bool { return x == n })
	}
	n.requirements = nil
}

func (n *Node) String() string {
	return fmt.Sprintf("n%d %s", n.id, n.Target)
}
