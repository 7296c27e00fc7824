// Package policy decides which instructions need instrumentation.
//
// A Policy looks at one instruction at a time and appends the targets it
// implies. Problems that make a target impossible to express (an access
// through an unsized type, a call through a non-function value) are recorded
// on the shared diag.Collector and classification carries on.
package policy

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Policy classifies instructions into instrumentation targets.
type Policy interface {
	Name() string
	// Classify appends the targets required at at to dst and returns the
	// extended slice.
	Classify(dst []*itarget.ITarget, at *ir.Instr) []*itarget.ITarget
}

// Policy names accepted by New.
const (
	NameAccessOnly    = "access-only"
	NameBeforeOutflow = "before-outflow"
)

// Names lists the available policies.
func Names() []string { return []string{NameAccessOnly, NameBeforeOutflow} }

// Options configure New.
type Options struct {
	// Temporal adds CheckTemporal to every check target.
	Temporal bool
	// Diagnostics receives non-fatal problems. Required.
	Diagnostics *diag.Collector
}

// New constructs the named policy.
func New(name string, opts Options) (Policy, error) {
	if opts.Diagnostics == nil {
		opts.Diagnostics = diag.NewCollector()
	}
	var p Policy
	switch name {
	case NameAccessOnly:
		p = &AccessOnly{diags: opts.Diagnostics}
	case NameBeforeOutflow:
		p = &BeforeOutflow{AccessOnly{diags: opts.Diagnostics}}
	default:
		return nil, fmt.Errorf("unknown policy %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	if opts.Temporal {
		p = WithTemporal(p)
	}
	return p, nil
}

// ClassifyFunction runs p over every instruction of f in block order and
// drops exact duplicates.
func ClassifyFunction(p Policy, f *ir.Function) []*itarget.ITarget {
	var out []*itarget.ITarget
	for _, i := range f.Instructions() {
		out = p.Classify(out, i)
	}
	return itarget.Dedupe(out)
}

// temporal decorates a policy so its check targets also check liveness.
type temporal struct{ Policy }

// WithTemporal wraps p so every check target it emits carries CheckTemporal.
func WithTemporal(p Policy) Policy { return temporal{p} }

func (t temporal) Name() string { return t.Policy.Name() + "+temporal" }

func (t temporal) Classify(dst []*itarget.ITarget, at *ir.Instr) []*itarget.ITarget {
	n := len(dst)
	dst = t.Policy.Classify(dst, at)
	for _, tg := range dst[n:] {
		if tg.HasCheck() {
			tg.AddFlags(itarget.CheckTemporal)
		}
	}
	return dst
}

// memIntrinsic describes the pointer and length operands of a memory
// intrinsic. src is -1 for memset.
type memIntrinsic struct{ dst, src, length int }

func lookupIntrinsic(f *ir.Function) (memIntrinsic, bool) {
	if f == nil {
		return memIntrinsic{}, false
	}
	name := f.Name()
	switch {
	case strings.HasPrefix(name, "llvm.memcpy"), strings.HasPrefix(name, "llvm.memmove"):
		return memIntrinsic{dst: 0, src: 1, length: 2}, true
	case strings.HasPrefix(name, "llvm.memset"):
		return memIntrinsic{dst: 0, src: -1, length: 2}, true
	}
	return memIntrinsic{}, false
}

// isIntrinsic reports whether f is a compiler intrinsic, which is never
// instrumented as a call.
func isIntrinsic(f *ir.Function) bool {
	return f != nil && strings.HasPrefix(f.Name(), "llvm.")
}

// trivialPointer reports values that never need a witness of their own.
func trivialPointer(v ir.Value) bool {
	switch v.(type) {
	case *ir.ConstNull, *ir.Undef:
		return true
	}
	return false
}
