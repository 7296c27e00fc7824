// Package harness runs instrumentation scenarios.
//
// A scenario names a module file, the engine options to run it with, the
// expected outcome and a list of assertions over the run report, the
// instrumented IR and the mechanism call log.
//
// # Scenario Format
//
//	name: walk_dummy
//	description: "Loop-carried pointer coalesces to its source"
//	module: ../../../../testdata/modules/basic.yaml
//	options:
//	  mechanism: dummy
//	  filters: [annotation, dominance]
//	expect:
//	  status: ok
//	assertions:
//	  - type: function_stats
//	    function: walk
//	    expect: {checks: 1, witnesses: 1}
//	  - type: call_count
//	    op: insertWitnessPhi
//	    count: 0
//
// Module paths are relative to the scenario file.
//
// # Assertion Types
//
//   - function_stats: subset match on one function's report
//   - call_count: the mechanism was called with op exactly count times
//   - call_order: the listed calls appear in the call log in order
//   - runtime_calls: function contains count calls to callee after the run
//   - declared: the listed runtime functions were declared
//   - diagnostic: a diagnostic with code was recorded, optionally for function
//
// # Deterministic Testing
//
// Every scenario runs with the scenario name as run ID, a StepClock and a
// fresh in-memory store, so call logs and reports are byte-identical across
// runs and suitable for golden comparison.
package harness
