package itarget

import "fmt"

// ContractError is the panic value for violated internal contracts: reading
// flags of an invalid target, re-witnessing a target, or an IR shape the
// witness engine does not cover. It aborts processing of the whole module;
// the engine recovers it at the function boundary and reports a failure.
type ContractError struct {
	Op      string
	Message string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("contract violation in %s: %s", e.Op, e.Message)
}

// Violation panics with a ContractError.
func Violation(op, format string, args ...any) {
	panic(&ContractError{Op: op, Message: fmt.Sprintf(format, args...)})
}
