package mechanism

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Call is one recorded mechanism invocation.
type Call struct {
	Op     string `json:"op" yaml:"op"`
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

func (c Call) String() string {
	if c.Target == "" {
		return c.Op
	}
	return c.Op + " " + c.Target
}

// Recorder wraps a Mechanism and logs every call in order. It is used by
// tests and the scenario harness to assert how materialization drove the
// backend.
type Recorder struct {
	Inner Mechanism

	mu    sync.Mutex
	calls []Call
}

// NewRecorder wraps inner. A nil inner records around a fresh Dummy.
func NewRecorder(inner Mechanism) *Recorder {
	if inner == nil {
		inner = NewDummy()
	}
	return &Recorder{Inner: inner}
}

func (r *Recorder) record(op string, t *itarget.ITarget) {
	c := Call{Op: op}
	if t != nil {
		c.Target = t.String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns a copy of the call log.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times op was called.
func (r *Recorder) Count(op string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Reset clears the call log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Log renders the call log one call per line.
func (r *Recorder) Log() string {
	var sb strings.Builder
	for _, c := range r.Calls() {
		fmt.Fprintln(&sb, c)
	}
	return sb.String()
}

// Recorded operation names.
const (
	OpInitialize    = "initialize"
	OpInsertWitness = "insertWitness"
	OpInsertPhi     = "insertWitnessPhi"
	OpAddIncoming   = "addIncomingWitnessToPhi"
	OpInsertSelect  = "insertWitnessSelect"
	OpMaterialize   = "materializeBounds"
	OpInsertCheck   = "insertCheck"
	OpInvariant     = "insertInvariantCheck"
	OpFailFunction  = "getFailFunction"
)

func (r *Recorder) Name() string { return r.Inner.Name() }

func (r *Recorder) Initialize(mc *Context) {
	r.record(OpInitialize, nil)
	r.Inner.Initialize(mc)
}

func (r *Recorder) InsertWitness(mc *Context, t *itarget.ITarget) {
	r.record(OpInsertWitness, t)
	r.Inner.InsertWitness(mc, t)
}

func (r *Recorder) InsertWitnessPhi(mc *Context, t *itarget.ITarget) itarget.Witness {
	r.record(OpInsertPhi, t)
	return r.Inner.InsertWitnessPhi(mc, t)
}

func (r *Recorder) AddIncomingWitnessToPhi(mc *Context, phi, incoming itarget.Witness, from *ir.Block) {
	r.mu.Lock()
	r.calls = append(r.calls, Call{Op: OpAddIncoming, Target: "from %" + from.Name})
	r.mu.Unlock()
	r.Inner.AddIncomingWitnessToPhi(mc, phi, incoming, from)
}

func (r *Recorder) InsertWitnessSelect(mc *Context, t *itarget.ITarget, tw, fw itarget.Witness) itarget.Witness {
	r.record(OpInsertSelect, t)
	return r.Inner.InsertWitnessSelect(mc, t, tw, fw)
}

func (r *Recorder) MaterializeBounds(mc *Context, t *itarget.ITarget) {
	r.record(OpMaterialize, t)
	r.Inner.MaterializeBounds(mc, t)
}

func (r *Recorder) InsertCheck(mc *Context, t *itarget.ITarget) {
	r.record(OpInsertCheck, t)
	r.Inner.InsertCheck(mc, t)
}

// InsertInvariantCheck forwards to the wrapped backend. Use
// InvariantCheckerOf to learn whether that backend checks invariants.
func (r *Recorder) InsertInvariantCheck(mc *Context, t *itarget.ITarget) {
	ic := InvariantCheckerOf(r.Inner)
	if ic == nil {
		return
	}
	r.record(OpInvariant, t)
	ic.InsertInvariantCheck(mc, t)
}

func (r *Recorder) FailFunction(mc *Context) *ir.Function {
	r.record(OpFailFunction, nil)
	return r.Inner.FailFunction(mc)
}
