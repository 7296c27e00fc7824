// Package witness builds and materializes witness graphs.
//
// A witness graph records, for one function, how the bounds information of
// every instrumentation target is derived from other values: through casts
// and pointer arithmetic, selects, phis, and finally from sources (loads,
// allocations, calls, arguments, globals) whose witnesses are created
// fresh.
//
// Processing a function is a fixed sequence:
//
//	g := witness.NewGraph(fn, strategy)
//	for _, t := range targets {
//		g.InsertRequiredTarget(t)
//	}
//	g.PropagateFlags()
//	g.Simplify()
//	g.CreateWitnesses(mc, mech)
//
// External nodes wrap the targets callers asked about and are never merged.
// Internal nodes exist only to share sub-derivations and are keyed by
// (instrumentee, location): there is at most one per pair.
//
// Violated contracts (materializing before propagation, IR shapes the
// strategy does not cover) panic with a *ContractError. Half-instrumented
// code is worse than no build, so these are not returned as errors.
package witness
