package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/scc"
)

// CycleWarning reports a web of pointer phis that depend on themselves.
//
// Cycles are warnings, not errors: loop-carried pointers are ordinary. They
// are worth surfacing because every such web becomes a cyclic region of the
// witness graph and, unless it collapses to a single source, a witness phi.
type CycleWarning struct {
	Function string   `json:"function"`
	Path     []string `json:"path"`    // ["p", "q", "p"]
	Message  string   `json:"message"` // Human-readable description
	Level    string   `json:"level"`   // "warning" or "info"
}

// AnalyzePhiCycles finds pointer phis that reach themselves through phi,
// select, cast or GEP operands.
//
// The algorithm:
//  1. Build phi → phi dependency edges, looking through derived pointers
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each component with size > 1 or a self-loop
func AnalyzePhiCycles(f *ir.Function) []CycleWarning {
	var phis []*ir.Instr
	for _, i := range f.Instructions() {
		if i.Op == ir.OpPhi && i.Type().IsPointer() {
			phis = append(phis, i)
		}
	}
	if len(phis) == 0 {
		return []CycleWarning{}
	}

	deps := make(map[*ir.Instr][]*ir.Instr, len(phis))
	for _, p := range phis {
		for _, op := range p.Operands {
			deps[p] = append(deps[p], phiSources(op, map[ir.Value]bool{})...)
		}
	}
	succ := func(p *ir.Instr) []*ir.Instr { return deps[p] }

	var warnings []CycleWarning
	for _, comp := range scc.Tarjan(phis, succ) {
		if !scc.IsCyclic(comp, succ) {
			continue
		}
		warnings = append(warnings, cycleToWarning(f, comp, succ))
	}
	if warnings == nil {
		return []CycleWarning{}
	}
	return warnings
}

// phiSources returns the phis a pointer value is derived from without
// passing through another phi.
func phiSources(v ir.Value, seen map[ir.Value]bool) []*ir.Instr {
	if seen[v] {
		return nil
	}
	seen[v] = true
	i, ok := v.(*ir.Instr)
	if !ok {
		return nil
	}
	switch i.Op {
	case ir.OpPhi:
		return []*ir.Instr{i}
	case ir.OpBitCast, ir.OpAddrSpaceCast, ir.OpGEP:
		return phiSources(i.Operands[0], seen)
	case ir.OpSelect:
		return append(phiSources(i.Operands[1], seen), phiSources(i.Operands[2], seen)...)
	}
	return nil
}

func cycleToWarning(f *ir.Function, comp []*ir.Instr, succ func(*ir.Instr) []*ir.Instr) CycleWarning {
	if len(comp) == 1 {
		name := comp[0].Name()
		return CycleWarning{
			Function: f.Name(),
			Path:     []string{name, name},
			Message:  fmt.Sprintf("Loop-carried pointer phi: %%%s → %%%s", name, name),
			Level:    "info",
		}
	}

	path := reconstructCyclePath(comp, succ)
	names := make([]string, len(path))
	for i, p := range path {
		names[i] = "%" + p.Name()
	}
	plain := make([]string, len(path))
	for i, p := range path {
		plain[i] = p.Name()
	}
	return CycleWarning{
		Function: f.Name(),
		Path:     plain,
		Message:  fmt.Sprintf("Pointer phi cycle: %s", strings.Join(names, " → ")),
		Level:    "warning",
	}
}

// reconstructCyclePath follows edges inside the component from its first
// member until the walk returns to the start.
func reconstructCyclePath(comp []*ir.Instr, succ func(*ir.Instr) []*ir.Instr) []*ir.Instr {
	member := make(map[*ir.Instr]bool, len(comp))
	for _, n := range comp {
		member[n] = true
	}

	start := comp[0]
	current := start
	path := []*ir.Instr{current}
	visited := map[*ir.Instr]bool{}
	for {
		visited[current] = true
		var next *ir.Instr
		for _, n := range succ(current) {
			if member[n] && (!visited[n] || n == start) {
				next = n
				break
			}
		}
		if next == nil {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
