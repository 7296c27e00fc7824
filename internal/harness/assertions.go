package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/store"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Calls    []string // Call log for call assertions
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nCall log:\n")
		for i, c := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, c)
		}
	}

	return buf.String()
}

// AssertionContext provides what assertions inspect beyond the result.
type AssertionContext struct {
	// Module is the module after instrumentation.
	Module *ir.Module
}

// statValue reads a named field of a function report.
func statValue(fr store.FunctionReport, field string) int {
	switch field {
	case "targets":
		return fr.Targets
	case "valid_targets":
		return fr.Valid
	case "externals":
		return fr.Externals
	case "internals":
		return fr.Internals
	case "witnesses":
		return fr.Witnesses
	case "checks":
		return fr.Checks
	}
	return -1
}

// assertFunctionStats checks the named report fields (subset match).
func assertFunctionStats(result *Result, a Assertion) error {
	fr, ok := result.Function(a.Function)
	if !ok {
		return &AssertionError{
			Type:     AssertFunctionStats,
			Expected: fmt.Sprintf("report for @%s", a.Function),
			Actual:   "no such function in the report",
		}
	}

	// Sort keys for deterministic error messages
	keys := make([]string, 0, len(a.Expect))
	for k := range a.Expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mismatches []string
	for _, k := range keys {
		if got := statValue(fr, k); got != a.Expect[k] {
			mismatches = append(mismatches, fmt.Sprintf("%s=%d (want %d)", k, got, a.Expect[k]))
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertFunctionStats,
		Expected: fmt.Sprintf("@%s %v", a.Function, a.Expect),
		Actual:   strings.Join(mismatches, ", "),
	}
}

// assertCallCount checks how often the mechanism saw op.
func assertCallCount(calls []string, a Assertion) error {
	count := 0
	for _, c := range calls {
		if c == a.Op || strings.HasPrefix(c, a.Op+" ") {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallCount,
		Expected: fmt.Sprintf("%s called %d time(s)", a.Op, a.Count),
		Actual:   fmt.Sprintf("called %d time(s)", count),
		Calls:    calls,
	}
}

// assertCallOrder checks the calls appear in order. Calls need not be
// consecutive; intervening calls are allowed.
func assertCallOrder(calls []string, a Assertion) error {
	next := 0
	for _, c := range calls {
		if next < len(a.Calls) && c == a.Calls[next] {
			next++
		}
	}
	if next == len(a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallOrder,
		Expected: fmt.Sprintf("calls in order %v", a.Calls),
		Actual:   fmt.Sprintf("%q not found after the first %d", a.Calls[next], next),
		Calls:    calls,
	}
}

// assertRuntimeCalls counts calls to a runtime function in the instrumented
// IR of one function.
func assertRuntimeCalls(m *ir.Module, a Assertion) error {
	f := m.Function(a.Function)
	if f == nil {
		return &AssertionError{
			Type:     AssertRuntimeCalls,
			Expected: fmt.Sprintf("function @%s", a.Function),
			Actual:   "not in module",
		}
	}
	count := 0
	for _, i := range f.Instructions() {
		if i.Op == ir.OpCall && i.CalledFunction() != nil && i.CalledFunction().Name() == a.Callee {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertRuntimeCalls,
		Expected: fmt.Sprintf("@%s calls @%s %d time(s)", a.Function, a.Callee, a.Count),
		Actual:   fmt.Sprintf("%d call(s)", count),
	}
}

// assertDeclared checks every name was declared by the mechanism.
func assertDeclared(declared []string, a Assertion) error {
	var missing []string
	for _, n := range a.Names {
		if !slices.Contains(declared, n) {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertDeclared,
		Expected: fmt.Sprintf("declared %v", a.Names),
		Actual:   fmt.Sprintf("missing %v (declared %v)", missing, declared),
	}
}

// assertDiagnostic checks a diagnostic with the code was recorded.
func assertDiagnostic(result *Result, a Assertion) error {
	var seen []string
	if result.Report != nil {
		for _, d := range result.Report.Diagnostics {
			if d.Code == a.Code && (a.Function == "" || d.Function == a.Function) {
				return nil
			}
			seen = append(seen, d.String())
		}
	}
	want := a.Code
	if a.Function != "" {
		want += " in @" + a.Function
	}
	return &AssertionError{
		Type:     AssertDiagnostic,
		Expected: "diagnostic " + want,
		Actual:   fmt.Sprintf("recorded %v", seen),
	}
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertFunctionStats:
			err = assertFunctionStats(result, assertion)
		case AssertCallCount:
			err = assertCallCount(result.Calls, assertion)
		case AssertCallOrder:
			err = assertCallOrder(result.Calls, assertion)
		case AssertRuntimeCalls:
			if actx == nil || actx.Module == nil {
				err = fmt.Errorf("assertion[%d]: runtime_calls requires the module", i)
			} else {
				err = assertRuntimeCalls(actx.Module, assertion)
			}
		case AssertDeclared:
			err = assertDeclared(result.Declared, assertion)
		case AssertDiagnostic:
			err = assertDiagnostic(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
