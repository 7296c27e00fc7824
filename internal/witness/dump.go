package witness

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// WriteDot renders the graph in Graphviz dot syntax. External nodes are
// drawn blue and sources green; external sources get both.
func (g *Graph) WriteDot(w io.Writer) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", "witnessgraph_"+g.fn.Name())
	for _, n := range g.Nodes() {
		var attrs []string
		if n.external {
			attrs = append(attrs, "color = blue")
		}
		if len(n.requirements) == 0 {
			attrs = append(attrs, "style = filled", "fillcolor = palegreen")
		}
		extra := ""
		if len(attrs) > 0 {
			extra = ", " + strings.Join(attrs, ", ")
		}
		fmt.Fprintf(&sb, "  n%d [label = %q%s];\n", n.id, n.Target.String(), extra)
	}
	for _, n := range g.Nodes() {
		for _, r := range n.requirements {
			fmt.Fprintf(&sb, "  n%d -> n%d;\n", n.id, r.id)
		}
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

// WitnessClass is one witness and the (instrumentee, location) pairs that
// share it.
type WitnessClass struct {
	Members []string `json:"members" yaml:"members"`
}

func (c WitnessClass) String() string { return "{" + strings.Join(c.Members, ", ") + "}" }

// WitnessClasses groups every witnessed node by the witness it holds.
// Members are rendered "(%p, %loc)" and sorted, classes are sorted by their
// first member, so the result only depends on the sharing structure.
func (g *Graph) WitnessClasses() []WitnessClass {
	byWitness := map[itarget.Witness]map[string]bool{}
	var order []itarget.Witness
	for _, n := range g.Nodes() {
		w := n.Target.BoundWitness()
		if w == nil {
			continue
		}
		if _, ok := byWitness[w]; !ok {
			byWitness[w] = map[string]bool{}
			order = append(order, w)
		}
		byWitness[w][pair(n.Target)] = true
	}

	classes := make([]WitnessClass, 0, len(order))
	for _, w := range order {
		members := make([]string, 0, len(byWitness[w]))
		for m := range byWitness[w] {
			members = append(members, m)
		}
		slices.Sort(members)
		classes = append(classes, WitnessClass{Members: members})
	}
	slices.SortFunc(classes, func(a, b WitnessClass) int { return strings.Compare(a.Members[0], b.Members[0]) })
	return classes
}

// WriteWitnessClasses writes one class per line.
func (g *Graph) WriteWitnessClasses(w io.Writer) error {
	var sb strings.Builder
	for _, c := range g.WitnessClasses() {
		sb.WriteString(c.String())
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func pair(t *itarget.ITarget) string {
	return fmt.Sprintf("(%s, %s)", ir.Ref(t.Instrumentee()), itarget.LocationName(t.Location()))
}
