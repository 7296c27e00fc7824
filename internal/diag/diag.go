// Package diag accumulates non-fatal diagnostics.
//
// Classification records problems here instead of failing so that a whole
// module is scanned before the run is declared failed.
package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Diagnostic codes (D100-D199)
const (
	CodeUnsizedAccess = "D100" // access through a pointer to an unsized type
	CodeBadCallee     = "D101" // indirect call whose callee is not a function pointer
	CodeVectorPointer = "D102" // vector of pointers, which no strategy covers
)

// Diagnostic is one recorded problem.
type Diagnostic struct {
	Code     string `json:"code"`
	Function string `json:"function"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

func (d Diagnostic) String() string {
	if d.Location != "" {
		return fmt.Sprintf("[%s] @%s %s: %s", d.Code, d.Function, d.Location, d.Message)
	}
	return fmt.Sprintf("[%s] @%s: %s", d.Code, d.Function, d.Message)
}

// Collector is a shared, append-only diagnostic accumulator. It is safe for
// concurrent use.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

// Add records a diagnostic.
func (c *Collector) Add(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
}

// Addf records a diagnostic built from a format string.
func (c *Collector) Addf(code, function, location, format string, args ...any) {
	c.Add(Diagnostic{Code: code, Function: function, Location: location, Message: fmt.Sprintf(format, args...)})
}

// Len returns the number of diagnostics.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.diags)
}

// Empty reports whether nothing was recorded.
func (c *Collector) Empty() bool { return c.Len() == 0 }

// All returns the diagnostics sorted by function, then recording order.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	out := make([]Diagnostic, len(c.diags))
	copy(out, c.diags)
	c.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Function < out[j].Function })
	return out
}

// Err returns nil when the collector is empty and an *Error listing every
// diagnostic otherwise.
func (c *Collector) Err() error {
	all := c.All()
	if len(all) == 0 {
		return nil
	}
	return &Error{Diagnostics: all}
}

// Error reports a run that recorded diagnostics.
type Error struct {
	Diagnostics []Diagnostic
}

func (e *Error) Error() string {
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.String()
	}
	return fmt.Sprintf("%d diagnostic(s):\n  %s", len(e.Diagnostics), strings.Join(lines, "\n  "))
}
