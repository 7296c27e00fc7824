package itarget

import (
	"fmt"
	"strings"
)

// Kind is the category of an instrumentation target. It is fixed when the
// target is created.
type Kind int

const (
	// Bounds asks for explicit lower/upper bound values, e.g. for a pointer
	// passed to uninstrumented code.
	Bounds Kind = iota
	// ConstSizeCheck is a dereference of a compile-time-known number of bytes.
	ConstSizeCheck
	// VarSizeCheck is an access whose size is only known at run time.
	VarSizeCheck
	// Intermediate is a graph-internal derivation step.
	Intermediate
	// Invariant is a pointer leaving the function (store, return) that needs
	// a witness but no bounds check. Backends implementing InvariantChecker
	// verify it still points into its allocation.
	Invariant
	// CallCheck is an indirect call through a function pointer.
	CallCheck
	// CallInvariant is a pointer argument passed to an instrumented callee.
	CallInvariant
)

// IsInvariant reports whether k marks a pointer that escapes the function.
func (k Kind) IsInvariant() bool { return k == Invariant || k == CallInvariant }

var kindNames = [...]string{
	Bounds:         "bounds",
	ConstSizeCheck: "const-size-check",
	VarSizeCheck:   "var-size-check",
	Intermediate:   "intermediate",
	Invariant:      "invariant",
	CallCheck:      "call-check",
	CallInvariant:  "call-invariant",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Flags are the mutable requirements of a target. They only ever grow.
type Flags uint8

const (
	CheckUpper Flags = 1 << iota
	CheckLower
	CheckTemporal
	RequiresExplicitBounds
)

// CheckBoth is the spatial check pair.
const CheckBoth = CheckUpper | CheckLower

// Has reports whether every bit of o is set in f.
func (f Flags) Has(o Flags) bool { return f&o == o }

// Any reports whether some bit of o is set in f.
func (f Flags) Any(o Flags) bool { return f&o != 0 }

var flagNames = []struct {
	f    Flags
	name string
}{
	{CheckUpper, "upper"},
	{CheckLower, "lower"},
	{CheckTemporal, "temporal"},
	{RequiresExplicitBounds, "explicit"},
}

func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// MarshalText renders the kind by name, so kind-keyed maps encode readably.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }
