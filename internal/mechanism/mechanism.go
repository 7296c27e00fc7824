// Package mechanism defines the bounds-backend contract and its
// implementations.
//
// The witness engine only talks to a Mechanism: it asks for fresh witnesses
// at sources, for merge witnesses at phis and selects, for explicit bounds
// and finally for checks. Backends differ in what a witness is. For splay it
// is the pointer itself and bounds come from a runtime range tree; for
// lowfat it is the allocation base; for dummy it is nothing at all.
//
// All backend state that outlives one call lives in the Context passed to
// every method.
package mechanism

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Mechanism is a bounds backend.
type Mechanism interface {
	Name() string
	// Initialize declares the runtime functions the backend calls.
	Initialize(mc *Context)
	// InsertWitness creates a fresh witness for t's instrumentee and
	// attaches it to t.
	InsertWitness(mc *Context, t *itarget.ITarget)
	// InsertWitnessPhi creates an empty merge witness for the phi t is
	// about. Incoming witnesses are added afterwards.
	InsertWitnessPhi(mc *Context, t *itarget.ITarget) itarget.Witness
	// AddIncomingWitnessToPhi adds incoming, flowing in from from, to a
	// witness created by InsertWitnessPhi.
	AddIncomingWitnessToPhi(mc *Context, phi, incoming itarget.Witness, from *ir.Block)
	// InsertWitnessSelect combines the witnesses of a select's operands.
	InsertWitnessSelect(mc *Context, t *itarget.ITarget, tw, fw itarget.Witness) itarget.Witness
	// MaterializeBounds stores explicit bound values on t.
	MaterializeBounds(mc *Context, t *itarget.ITarget)
	// InsertCheck emits the checks t's flags ask for.
	InsertCheck(mc *Context, t *itarget.ITarget)
	// FailFunction returns the runtime function called on a failed check.
	FailFunction(mc *Context) *ir.Function
}

// InvariantChecker is implemented by backends that must see escaping
// pointers. The engine calls it for every valid Invariant and CallInvariant
// target once witnesses exist.
type InvariantChecker interface {
	InsertInvariantCheck(mc *Context, t *itarget.ITarget)
}

// InvariantCheckerOf returns m's invariant checker, nil when m has none. A
// Recorder answers for the backend it wraps.
func InvariantCheckerOf(m Mechanism) InvariantChecker {
	if r, ok := m.(*Recorder); ok {
		if InvariantCheckerOf(r.Inner) == nil {
			return nil
		}
		return r
	}
	ic, _ := m.(InvariantChecker)
	return ic
}

// Mechanism names accepted by New.
const (
	NameSplay  = "splay"
	NameLowfat = "lowfat"
	NameDummy  = "dummy"
)

// Names lists the available mechanisms.
func Names() []string { return []string{NameSplay, NameLowfat, NameDummy} }

// New constructs the named mechanism.
func New(name string) (Mechanism, error) {
	switch name {
	case NameSplay:
		return Splay{}, nil
	case NameLowfat:
		return Lowfat{}, nil
	case NameDummy:
		return NewDummy(), nil
	}
	return nil, fmt.Errorf("unknown mechanism %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// downcast checks a witness's backend tag before the type assertion.
func downcast[W itarget.Witness](op string, kind itarget.WitnessKind, w itarget.Witness) W {
	if w == nil || w.Kind() != kind {
		itarget.Violation(op, "expected a %s witness, got %v", kind, w)
	}
	return w.(W)
}
