package harness

import (
	"github.com/roach88/meminstrument/internal/engine"
	"github.com/roach88/meminstrument/internal/store"
)

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if the outcome and every assertion matched.
	Pass bool `json:"pass"`

	// Errors lists every mismatch. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Report is the run report as read back from the store.
	Report *store.RunDetail `json:"report"`

	// Declared lists the runtime functions the mechanism declared.
	Declared []string `json:"declared"`

	// Calls is the mechanism call log, one entry per call.
	Calls []string `json:"calls"`

	// RunErr is the error the engine returned, if any.
	RunErr error `json:"-"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Errors:   []string{},
		Declared: []string{},
		Calls:    []string{},
	}
}

// AddError adds a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Function returns the stored report of the named function.
func (r *Result) Function(name string) (store.FunctionReport, bool) {
	if r.Report == nil {
		return store.FunctionReport{}, false
	}
	for _, f := range r.Report.Functions {
		if f.Function == name {
			return f, true
		}
	}
	return store.FunctionReport{}, false
}

// errorCode returns the InstrumentError code of the run, or "".
func (r *Result) errorCode() (code, function string) {
	if r.RunErr == nil {
		return "", ""
	}
	switch {
	case engine.IsDiagnosticsError(r.RunErr):
		code = string(engine.ErrCodeDiagnostics)
	case engine.IsContractViolation(r.RunErr):
		code = string(engine.ErrCodeContractViolation)
	case engine.IsStoreError(r.RunErr):
		code = string(engine.ErrCodeStoreFailed)
	default:
		return "UNKNOWN", ""
	}
	if ie := asInstrumentError(r.RunErr); ie != nil {
		function = ie.Function
	}
	return code, function
}
