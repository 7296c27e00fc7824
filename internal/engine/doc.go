// Package engine drives instrumentation of a whole module.
//
// A run classifies every function with the configured policy first and fails
// before any IR mutation if the policy recorded diagnostics. Only then does
// it instrument function by function: filters, witness graph, flag
// propagation, simplification, witnesses, explicit bounds, checks.
//
// Each function's witness graph is independent. The only state shared
// across functions is the mechanism Context, whose runtime declarations are
// idempotent, so processing order does not change the declarations a module
// ends up with.
//
// Contract violations (unsupported IR shapes, ordering mistakes) panic deep
// in the witness and mechanism packages. The engine recovers them at the
// function boundary and fails the run with CONTRACT_VIOLATION; no further
// functions are processed.
//
// Run IDs are UUIDv7 by default. Per-function ordering in reports uses a
// Sequence, never wall-clock time.
package engine
