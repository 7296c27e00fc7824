package engine

import (
	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/store"
)

// Report is the outcome of one run.
type Report struct {
	Run         store.Run              `json:"run"`
	Functions   []store.FunctionReport `json:"functions"`
	Diagnostics []diag.Diagnostic      `json:"diagnostics"`
	// Declared lists the runtime functions the mechanism declared.
	Declared []string `json:"declared"`
}

// Totals sums the per-function statistics of a run.
type Totals struct {
	Functions int `json:"functions"`
	Targets   int `json:"targets"`
	Valid     int `json:"valid_targets"`
	Witnesses int `json:"witnesses"`
	Checks    int `json:"checks"`
}

// Totals sums the function reports.
func (r *Report) Totals() Totals {
	t := Totals{Functions: len(r.Functions)}
	for _, f := range r.Functions {
		t.Targets += f.Targets
		t.Valid += f.Valid
		t.Witnesses += f.Witnesses
		t.Checks += f.Checks
	}
	return t
}

// Detail converts the report to the form the store returns, so stored and
// fresh runs render the same way.
func (r *Report) Detail() *store.RunDetail {
	fns := make([]store.FunctionReport, len(r.Functions))
	for i, f := range r.Functions {
		f.RunID = r.Run.ID
		fns[i] = f
	}
	return &store.RunDetail{Run: r.Run, Functions: fns, Diagnostics: r.Diagnostics}
}
