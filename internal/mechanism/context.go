package mechanism

import (
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Context is the per-module state shared by every mechanism call: the module
// being instrumented, the runtime declarations inserted so far and a counter
// for fresh value names.
//
// One Context serves one module. Declarations are idempotent and guarded, so
// functions may be processed in any order and the module ends up with the
// same set of runtime declarations.
type Context struct {
	Module *ir.Module

	mu    sync.Mutex
	decls map[string]*ir.Function
	names map[string]int
}

// NewContext returns a context for m.
func NewContext(m *ir.Module) *Context {
	return &Context{Module: m, decls: map[string]*ir.Function{}, names: map[string]int{}}
}

// Declare returns the runtime function name, declaring it with sig on first
// use. Asking for an existing name with a different signature is a contract
// violation.
func (c *Context) Declare(name string, sig *ir.Type, attrs ...string) *ir.Function {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.decls[name]; ok {
		if !f.Sig.Equal(sig) {
			itarget.Violation("Context.Declare", "@%s redeclared as %s, was %s", name, sig, f.Sig)
		}
		return f
	}
	f := c.Module.DeclareFunction(name, sig)
	if !f.Sig.Equal(sig) {
		itarget.Violation("Context.Declare", "@%s exists in the module as %s, want %s", name, f.Sig, sig)
	}
	for _, a := range attrs {
		f.Attrs[a] = true
	}
	c.decls[name] = f
	return f
}

// Declared returns the names of the runtime functions declared through c,
// sorted.
func (c *Context) Declared() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.decls))
	for n := range c.decls {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// FreshName returns a value name derived from base that no earlier call on
// c returned.
func (c *Context) FreshName(base string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if base == "" {
		base = "tmp"
	}
	n := c.names[base]
	c.names[base] = n + 1
	return fmt.Sprintf("mi.%s.%d", base, n)
}
