package mechanism

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Runtime entry points of the low-fat pointer backend.
const (
	lowfatGetBase  = "__lowfat_get_base"
	lowfatGetUpper = "__lowfat_get_upper_bound"
	lowfatCheck    = "__lowfat_check_deref"
	lowfatInvar    = "__lowfat_check_invariant"
	lowfatFail     = "__lowfat_fail"
)

// Lowfat derives bounds from the pointer's address: allocations are
// size-class aligned, so the base of any in-bounds pointer can be computed.
// A witness is that base.
type Lowfat struct{}

// LowfatWitness carries the allocation base.
type LowfatWitness struct {
	mc    *Context
	fn    *ir.Function
	Base  ir.Value
	upper ir.Value
}

func (*LowfatWitness) Kind() itarget.WitnessKind { return itarget.WitnessLowfat }

func (w *LowfatWitness) LowerBound() ir.Value { return w.Base }

func (w *LowfatWitness) UpperBound() ir.Value {
	if w.upper == nil {
		rt := w.mc.Declare(lowfatGetUpper, ir.FuncOf(ir.I8Ptr, []*ir.Type{ir.I8Ptr}, false))
		w.upper = insertAfterDef(w.fn, w.Base, ir.NewCall(w.mc.FreshName(w.Base.Name()+".upper"), rt, w.Base))
	}
	return w.upper
}

func (Lowfat) Name() string { return NameLowfat }

func (l Lowfat) Initialize(mc *Context) {
	ptrFn := ir.FuncOf(ir.I8Ptr, []*ir.Type{ir.I8Ptr}, false)
	mc.Declare(lowfatGetBase, ptrFn)
	mc.Declare(lowfatGetUpper, ptrFn)
	mc.Declare(lowfatCheck, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr, ir.I64}, false))
	mc.Declare(lowfatInvar, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr}, false))
	l.FailFunction(mc)
}

func (Lowfat) InsertWitness(mc *Context, t *itarget.ITarget) {
	fn := targetFunc(t)
	v := t.Instrumentee()
	p := asBytePtr(mc, fn, v)
	rt := mc.Declare(lowfatGetBase, ir.FuncOf(ir.I8Ptr, []*ir.Type{ir.I8Ptr}, false))
	base := ir.NewCall(mc.FreshName(v.Name()+".base"), rt, p)
	insertAfterDef(fn, p, base)
	t.SetBoundWitness(&LowfatWitness{mc: mc, fn: fn, Base: base})
}

func (Lowfat) InsertWitnessPhi(mc *Context, t *itarget.ITarget) itarget.Witness {
	src := mergeInstr("Lowfat.InsertWitnessPhi", t, ir.OpPhi)
	phi := ir.InsertPhi(src.Block, ir.NewPhi(mc.FreshName(src.Name()+".base"), ir.I8Ptr))
	return &LowfatWitness{mc: mc, fn: src.Func(), Base: phi}
}

func (Lowfat) AddIncomingWitnessToPhi(mc *Context, phi, incoming itarget.Witness, from *ir.Block) {
	p := downcast[*LowfatWitness]("Lowfat.AddIncomingWitnessToPhi", itarget.WitnessLowfat, phi)
	in := downcast[*LowfatWitness]("Lowfat.AddIncomingWitnessToPhi", itarget.WitnessLowfat, incoming)
	p.Base.(*ir.Instr).AddIncoming(in.Base, from)
}

func (Lowfat) InsertWitnessSelect(mc *Context, t *itarget.ITarget, tw, fw itarget.Witness) itarget.Witness {
	src := mergeInstr("Lowfat.InsertWitnessSelect", t, ir.OpSelect)
	tv := downcast[*LowfatWitness]("Lowfat.InsertWitnessSelect", itarget.WitnessLowfat, tw)
	fv := downcast[*LowfatWitness]("Lowfat.InsertWitnessSelect", itarget.WitnessLowfat, fw)
	sel := ir.InsertAfter(src, ir.NewSelect(mc.FreshName(src.Name()+".base"), src.Operands[0], tv.Base, fv.Base))
	return &LowfatWitness{mc: mc, fn: src.Func(), Base: sel}
}

func (Lowfat) MaterializeBounds(mc *Context, t *itarget.ITarget) {
	w := t.BoundWitness()
	t.SetExplicitBounds(w.LowerBound(), w.UpperBound())
}

// InsertCheck emits one deref check covering both bounds. Low-fat pointers
// carry no allocation state, so temporal checks cannot be expressed and the
// flag is ignored.
func (Lowfat) InsertCheck(mc *Context, t *itarget.ITarget) {
	if !t.HasCheck() {
		return
	}
	w := downcast[*LowfatWitness]("Lowfat.InsertCheck", itarget.WitnessLowfat, t.BoundWitness())
	at := t.Location()
	p := bytePtrAt(mc, targetFunc(t), t.Instrumentee(), at)
	check := mc.Declare(lowfatCheck, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr, ir.I64}, false))
	ir.InsertBefore(at, ir.NewCall("", check, p, w.Base, accessSize(t)))
}

// InsertInvariantCheck checks that a pointer leaving the function still
// points into the allocation at its base. Whoever receives the pointer
// recomputes the base from its address alone.
func (Lowfat) InsertInvariantCheck(mc *Context, t *itarget.ITarget) {
	if !t.Kind().IsInvariant() {
		itarget.Violation("Lowfat.InsertInvariantCheck", "%s is not an invariant target", t)
	}
	w := downcast[*LowfatWitness]("Lowfat.InsertInvariantCheck", itarget.WitnessLowfat, t.BoundWitness())
	at := t.Location()
	p := bytePtrAt(mc, targetFunc(t), t.Instrumentee(), at)
	check := mc.Declare(lowfatInvar, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr}, false))
	ir.InsertBefore(at, ir.NewCall("", check, p, w.Base))
}

func (Lowfat) FailFunction(mc *Context) *ir.Function {
	return mc.Declare(lowfatFail, ir.FuncOf(ir.Void, nil, false), "noreturn")
}
