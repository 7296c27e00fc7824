package itarget

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
)

// Identity is the (instrumentee, location) pair a target is about.
type Identity struct {
	Instrumentee ir.Value
	Location     *ir.Instr
}

// ITarget is one instrumentation obligation: some value needs a witness, a
// check, or explicit bounds at some instruction.
//
// Kind, instrumentee and location never change. Flags only grow. The bound
// witness is set once. Invalidation is a soft delete: the record stays so
// graph edges referencing it remain meaningful.
type ITarget struct {
	kind         Kind
	instrumentee ir.Value
	location     *ir.Instr
	flags        Flags

	constSize int64
	sizeValue ir.Value

	witness      Witness
	lower, upper ir.Value

	invalid bool
}

func newTarget(k Kind, v ir.Value, at *ir.Instr, f Flags) *ITarget {
	return &ITarget{kind: k, instrumentee: v, location: at, flags: f}
}

// NewBounds asks for explicit bound values of v at at.
func NewBounds(v ir.Value, at *ir.Instr) *ITarget {
	return newTarget(Bounds, v, at, RequiresExplicitBounds)
}

// NewConstSizeCheck checks an access of size bytes through v at at.
func NewConstSizeCheck(v ir.Value, at *ir.Instr, size int64) *ITarget {
	t := newTarget(ConstSizeCheck, v, at, CheckBoth)
	t.constSize = size
	return t
}

// NewVarSizeCheck checks an access of a dynamic number of bytes through v.
func NewVarSizeCheck(v ir.Value, at *ir.Instr, size ir.Value) *ITarget {
	t := newTarget(VarSizeCheck, v, at, CheckBoth)
	t.sizeValue = size
	return t
}

// NewIntermediate creates a graph-internal target with no requirements of
// its own; it acquires flags through propagation.
func NewIntermediate(v ir.Value, at *ir.Instr) *ITarget {
	return newTarget(Intermediate, v, at, 0)
}

// NewInvariant records that v escapes at at and must carry a witness.
func NewInvariant(v ir.Value, at *ir.Instr) *ITarget {
	return newTarget(Invariant, v, at, 0)
}

// NewCallCheck checks that the function pointer v is a valid call target.
func NewCallCheck(v ir.Value, at *ir.Instr) *ITarget {
	return newTarget(CallCheck, v, at, CheckBoth)
}

// NewCallInvariant records that v is passed to an instrumented callee.
func NewCallInvariant(v ir.Value, at *ir.Instr) *ITarget {
	return newTarget(CallInvariant, v, at, 0)
}

func (t *ITarget) Kind() Kind             { return t.kind }
func (t *ITarget) Instrumentee() ir.Value { return t.instrumentee }
func (t *ITarget) Location() *ir.Instr    { return t.location }
func (t *ITarget) Identity() Identity     { return Identity{t.instrumentee, t.location} }

// IsValid reports whether the target is still live.
func (t *ITarget) IsValid() bool { return !t.invalid }

// Invalidate removes the target from further consideration. It cannot be
// undone.
func (t *ITarget) Invalidate() { t.invalid = true }

// Flags returns the current flags. Reading the flags of an invalidated
// target is a contract violation.
func (t *ITarget) Flags() Flags {
	if t.invalid {
		Violation("ITarget.Flags", "flags of invalidated target %s", t)
	}
	return t.flags
}

// HasFlags reports whether all of f are set.
func (t *ITarget) HasFlags(f Flags) bool { return t.Flags().Has(f) }

// HasCheck reports whether an upper or lower check is required.
func (t *ITarget) HasCheck() bool { return t.Flags().Any(CheckBoth) }

// AddFlags ORs f into the target's flags and reports whether they changed.
func (t *ITarget) AddFlags(f Flags) bool {
	old := t.flags
	t.flags |= f
	return t.flags != old
}

// JoinFlags ORs o's flags into t and reports whether t changed.
func (t *ITarget) JoinFlags(o *ITarget) bool { return t.AddFlags(o.flags) }

// ConstSize returns the access size of a ConstSizeCheck.
func (t *ITarget) ConstSize() (int64, bool) {
	return t.constSize, t.kind == ConstSizeCheck
}

// SizeValue returns the dynamic size of a VarSizeCheck.
func (t *ITarget) SizeValue() ir.Value { return t.sizeValue }

// HasBoundWitness reports whether materialization reached this target.
func (t *ITarget) HasBoundWitness() bool { return t.witness != nil }

// BoundWitness returns the witness, or nil before materialization.
func (t *ITarget) BoundWitness() Witness { return t.witness }

// SetBoundWitness attaches w. Setting the same witness again is a no-op;
// replacing a witness is a contract violation.
func (t *ITarget) SetBoundWitness(w Witness) {
	switch {
	case w == nil:
		Violation("ITarget.SetBoundWitness", "nil witness for %s", t)
	case t.witness == nil:
		t.witness = w
	case t.witness != w:
		Violation("ITarget.SetBoundWitness", "%s already has a different witness", t)
	}
}

// SetExplicitBounds stores the bound values produced for a target that
// requires explicit bounds.
func (t *ITarget) SetExplicitBounds(lower, upper ir.Value) {
	t.lower, t.upper = lower, upper
}

// ExplicitBounds returns the stored bound values, nil before
// materialization.
func (t *ITarget) ExplicitBounds() (lower, upper ir.Value) { return t.lower, t.upper }

// Equal compares identity, kind and flags. It is used for de-duplication
// only; graph nodes are keyed by identity alone.
func (t *ITarget) Equal(o *ITarget) bool {
	return t.instrumentee == o.instrumentee && t.location == o.location &&
		t.kind == o.kind && t.flags == o.flags &&
		t.constSize == o.constSize && t.sizeValue == o.sizeValue
}

// String renders the target for dumps and log lines, e.g.
//
//	const-size-check(4) %p @ %v [upper|lower]
func (t *ITarget) String() string {
	var sb strings.Builder
	sb.WriteString(t.kind.String())
	switch t.kind {
	case ConstSizeCheck:
		fmt.Fprintf(&sb, "(%d)", t.constSize)
	case VarSizeCheck:
		fmt.Fprintf(&sb, "(%s)", ir.Ref(t.sizeValue))
	}
	fmt.Fprintf(&sb, " %s @ %s [%s]", ir.Ref(t.instrumentee), LocationName(t.location), t.flags)
	if t.invalid {
		sb.WriteString(" invalid")
	}
	return sb.String()
}

// LocationName names an instruction for dumps: its value name when it has
// one, otherwise block and position ("entry#2").
func LocationName(i *ir.Instr) string {
	if i == nil {
		return "<nil>"
	}
	if i.Name() != "" {
		return "%" + i.Name()
	}
	if i.Block == nil {
		return "<detached " + i.Op.String() + ">"
	}
	return fmt.Sprintf("%s#%d", i.Block.Name, i.Index())
}
