package itarget

import (
	"fmt"

	"github.com/roach88/meminstrument/internal/ir"
)

// WitnessKind tags the backend that produced a Witness. The set is closed;
// backends downcast by switching on it.
type WitnessKind int

const (
	WitnessDummy WitnessKind = iota
	WitnessSplay
	WitnessLowfat
)

func (k WitnessKind) String() string {
	switch k {
	case WitnessDummy:
		return "dummy"
	case WitnessSplay:
		return "splay"
	case WitnessLowfat:
		return "lowfat"
	}
	return fmt.Sprintf("witness(%d)", int(k))
}

// Witness is a backend value that can answer bound queries for a pointer.
// Witnesses are shared: every target whose derivation aliased onto the same
// graph node holds the same Witness.
type Witness interface {
	Kind() WitnessKind
	// LowerBound returns the value holding the lowest valid address,
	// emitting code on first use if the backend computes it lazily.
	LowerBound() ir.Value
	// UpperBound returns the value holding one past the highest valid address.
	UpperBound() ir.Value
}
