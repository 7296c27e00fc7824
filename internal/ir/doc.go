// Package ir provides the host program representation instrumented by
// meminstrument.
//
// The representation is a small SSA form in the spirit of LLVM IR: modules
// hold globals and functions, functions hold basic blocks, blocks hold
// instructions, and every instruction that produces a result is itself a
// Value usable as an operand elsewhere.
//
// This package contains no instrumentation logic. All other internal
// packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Value is sealed; only the types in this package implement it
//   - Phi operand i always arrives from Incoming[i]; the order is preserved
//     by every transformation because witness phis mirror it
//   - Insertion helpers keep phis grouped at the start of their block
package ir
