package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/meminstrument/internal/compiler"
	"github.com/roach88/meminstrument/internal/engine"
	"github.com/roach88/meminstrument/internal/filter"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/mechanism"
	"github.com/roach88/meminstrument/internal/store"
	"github.com/roach88/meminstrument/internal/testutil"
)

// Harness holds the per-scenario execution state.
type Harness struct {
	store    *store.Store
	recorder *mechanism.Recorder
	module   *ir.Module
}

// RunOption configures Run.
type RunOption func(*runConfig)

type runConfig struct {
	domCache *filter.DomCache
}

// WithDomCache shares dominator trees across scenarios. Scenarios that
// load the same module file then compute each tree once.
func WithDomCache(c *filter.DomCache) RunOption {
	return func(rc *runConfig) { rc.domCache = c }
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
//  1. Load the module file
//  2. Build the engine with the scenario options, the named mechanism
//     wrapped in a Recorder, a fixed run ID and a StepClock
//  3. Run the engine; a failed run is an outcome, not an error
//  4. Read the report back from the store
//  5. Compare the outcome and evaluate assertions
//
// The returned error reports infrastructure problems only: an unreadable
// module, unknown option names, or a store that cannot be opened.
func Run(scenario *Scenario, options ...RunOption) (*Result, error) {
	var rc runConfig
	for _, opt := range options {
		opt(&rc)
	}

	m, err := compiler.LoadFile(scenario.Module)
	if err != nil {
		return nil, fmt.Errorf("failed to load module: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	opts := scenario.EngineOptions()
	inner, err := mechanism.New(opts.Mechanism)
	if err != nil {
		return nil, err
	}
	h := &Harness{store: st, recorder: mechanism.NewRecorder(inner), module: m}

	engineOpts := []engine.Option{
		engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.Name)),
		engine.WithClock(testutil.NewStepClock()),
		engine.WithStore(st),
		engine.WithMechanism(h.recorder),
	}
	if rc.domCache != nil {
		engineOpts = append(engineOpts, engine.WithDomCache(rc.domCache))
	}
	eng, err := engine.New(opts, engineOpts...)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	result := NewResult()
	report, runErr := eng.Run(ctx, m)
	result.RunErr = runErr
	if engine.IsStoreError(runErr) {
		return nil, runErr
	}
	result.Declared = report.Declared
	for _, c := range h.recorder.Calls() {
		result.Calls = append(result.Calls, c.String())
	}

	result.Report, err = st.ReadRun(ctx, scenario.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	for _, msg := range checkOutcome(scenario.Expect, result) {
		result.AddError(msg)
	}
	actx := &AssertionContext{Module: m}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// checkOutcome compares the run status and error with the expectation.
func checkOutcome(want Outcome, result *Result) []string {
	var errs []string
	if got := result.Report.Run.Status; got != want.Status {
		msg := fmt.Sprintf("expected status %s, got %s", want.Status, got)
		if result.Report.Run.Error != "" {
			msg += ": " + result.Report.Run.Error
		}
		errs = append(errs, msg)
	}
	code, fn := result.errorCode()
	if want.Error != "" && code != want.Error {
		errs = append(errs, fmt.Sprintf("expected error %s, got %q", want.Error, code))
	}
	if want.Function != "" && fn != want.Function {
		errs = append(errs, fmt.Sprintf("expected failure in function %s, got %q", want.Function, fn))
	}
	return errs
}

func asInstrumentError(err error) *engine.InstrumentError {
	var ie *engine.InstrumentError
	if errors.As(err, &ie) {
		return ie
	}
	return nil
}
