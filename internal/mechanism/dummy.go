package mechanism

import (
	"fmt"
	"sync"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Dummy emits no code. Each witness is a numbered token, which makes it the
// backend of choice for inspecting witness graphs: sharing shows up as equal
// numbers and nothing in the module changes.
type Dummy struct {
	mu     sync.Mutex
	next   int
	checks int
}

// NewDummy returns a dummy mechanism.
func NewDummy() *Dummy { return &Dummy{} }

// DummyWitness is a placeholder witness.
type DummyWitness struct {
	ID     int
	Origin string // "source", "phi" or "select"
	phi    []DummyIncoming
}

// DummyIncoming records one incoming witness of a dummy phi.
type DummyIncoming struct {
	Witness *DummyWitness
	From    string
}

func (*DummyWitness) Kind() itarget.WitnessKind { return itarget.WitnessDummy }
func (*DummyWitness) LowerBound() ir.Value      { return ir.NewConstNull(ir.I8Ptr) }
func (*DummyWitness) UpperBound() ir.Value      { return ir.NewConstNull(ir.I8Ptr) }

func (w *DummyWitness) String() string { return fmt.Sprintf("w%d", w.ID) }

// Incoming returns the witnesses added to a phi witness, in order.
func (w *DummyWitness) Incoming() []DummyIncoming { return w.phi }

func (d *Dummy) witness(origin string) *DummyWitness {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.next++
	return &DummyWitness{ID: d.next, Origin: origin}
}

// Witnesses returns how many witnesses were created.
func (d *Dummy) Witnesses() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.next
}

// Checks returns how many checks were requested.
func (d *Dummy) Checks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checks
}

func (*Dummy) Name() string { return NameDummy }

func (*Dummy) Initialize(*Context) {}

func (d *Dummy) InsertWitness(_ *Context, t *itarget.ITarget) {
	t.SetBoundWitness(d.witness("source"))
}

func (d *Dummy) InsertWitnessPhi(*Context, *itarget.ITarget) itarget.Witness {
	return d.witness("phi")
}

func (d *Dummy) AddIncomingWitnessToPhi(_ *Context, phi, incoming itarget.Witness, from *ir.Block) {
	p := downcast[*DummyWitness]("Dummy.AddIncomingWitnessToPhi", itarget.WitnessDummy, phi)
	in := downcast[*DummyWitness]("Dummy.AddIncomingWitnessToPhi", itarget.WitnessDummy, incoming)
	p.phi = append(p.phi, DummyIncoming{Witness: in, From: from.Name})
}

func (d *Dummy) InsertWitnessSelect(*Context, *itarget.ITarget, itarget.Witness, itarget.Witness) itarget.Witness {
	return d.witness("select")
}

func (*Dummy) MaterializeBounds(_ *Context, t *itarget.ITarget) {
	w := t.BoundWitness()
	t.SetExplicitBounds(w.LowerBound(), w.UpperBound())
}

func (d *Dummy) InsertCheck(_ *Context, t *itarget.ITarget) {
	if !t.HasCheck() && !t.HasFlags(itarget.CheckTemporal) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.checks++
}

func (*Dummy) FailFunction(mc *Context) *ir.Function {
	return mc.Declare("__dummy_fail", ir.FuncOf(ir.Void, nil, false), "noreturn")
}
