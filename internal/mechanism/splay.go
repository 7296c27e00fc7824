package mechanism

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// Runtime entry points of the splay-tree backend.
const (
	splayGetLower    = "__splay_get_lower"
	splayGetUpper    = "__splay_get_upper"
	splayCheckAccess = "__splay_check_access"
	splayCheckCall   = "__splay_check_call"
	splayCheckLive   = "__splay_check_temporal"
	splayFail        = "__splay_fail"
)

// Splay keeps allocation ranges in a run-time splay tree. A witness is just
// a pointer into the allocation; bounds are looked up when first needed.
type Splay struct{}

// SplayWitness is a pointer whose allocation the runtime can look up.
type SplayWitness struct {
	mc    *Context
	fn    *ir.Function
	Ptr   ir.Value
	lower ir.Value
	upper ir.Value
}

func (*SplayWitness) Kind() itarget.WitnessKind { return itarget.WitnessSplay }

func (w *SplayWitness) LowerBound() ir.Value {
	if w.lower == nil {
		w.lower = w.lookup(splayGetLower, "lower")
	}
	return w.lower
}

func (w *SplayWitness) UpperBound() ir.Value {
	if w.upper == nil {
		w.upper = w.lookup(splayGetUpper, "upper")
	}
	return w.upper
}

func (w *SplayWitness) lookup(fn, suffix string) ir.Value {
	rt := w.mc.Declare(fn, ir.FuncOf(ir.I8Ptr, []*ir.Type{ir.I8Ptr}, false))
	call := ir.NewCall(w.mc.FreshName(w.Ptr.Name()+"."+suffix), rt, w.Ptr)
	return insertAfterDef(w.fn, w.Ptr, call)
}

func (Splay) Name() string { return NameSplay }

func (s Splay) Initialize(mc *Context) {
	bound := ir.FuncOf(ir.I8Ptr, []*ir.Type{ir.I8Ptr}, false)
	mc.Declare(splayGetLower, bound)
	mc.Declare(splayGetUpper, bound)
	mc.Declare(splayCheckAccess, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr, ir.I64}, false))
	mc.Declare(splayCheckCall, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr}, false))
	mc.Declare(splayCheckLive, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr}, false))
	s.FailFunction(mc)
}

func (Splay) InsertWitness(mc *Context, t *itarget.ITarget) {
	fn := targetFunc(t)
	t.SetBoundWitness(&SplayWitness{mc: mc, fn: fn, Ptr: asBytePtr(mc, fn, t.Instrumentee())})
}

func (Splay) InsertWitnessPhi(mc *Context, t *itarget.ITarget) itarget.Witness {
	src := mergeInstr("Splay.InsertWitnessPhi", t, ir.OpPhi)
	phi := ir.InsertPhi(src.Block, ir.NewPhi(mc.FreshName(src.Name()+".wit"), ir.I8Ptr))
	return &SplayWitness{mc: mc, fn: src.Func(), Ptr: phi}
}

func (Splay) AddIncomingWitnessToPhi(mc *Context, phi, incoming itarget.Witness, from *ir.Block) {
	p := downcast[*SplayWitness]("Splay.AddIncomingWitnessToPhi", itarget.WitnessSplay, phi)
	in := downcast[*SplayWitness]("Splay.AddIncomingWitnessToPhi", itarget.WitnessSplay, incoming)
	p.Ptr.(*ir.Instr).AddIncoming(in.Ptr, from)
}

func (Splay) InsertWitnessSelect(mc *Context, t *itarget.ITarget, tw, fw itarget.Witness) itarget.Witness {
	src := mergeInstr("Splay.InsertWitnessSelect", t, ir.OpSelect)
	tv := downcast[*SplayWitness]("Splay.InsertWitnessSelect", itarget.WitnessSplay, tw)
	fv := downcast[*SplayWitness]("Splay.InsertWitnessSelect", itarget.WitnessSplay, fw)
	sel := ir.InsertAfter(src, ir.NewSelect(mc.FreshName(src.Name()+".wit"), src.Operands[0], tv.Ptr, fv.Ptr))
	return &SplayWitness{mc: mc, fn: src.Func(), Ptr: sel}
}

func (Splay) MaterializeBounds(mc *Context, t *itarget.ITarget) {
	w := t.BoundWitness()
	t.SetExplicitBounds(w.LowerBound(), w.UpperBound())
}

func (Splay) InsertCheck(mc *Context, t *itarget.ITarget) {
	w := downcast[*SplayWitness]("Splay.InsertCheck", itarget.WitnessSplay, t.BoundWitness())
	fn := targetFunc(t)
	at := t.Location()
	ptr := t.Instrumentee()

	if t.HasFlags(itarget.CheckTemporal) {
		live := mc.Declare(splayCheckLive, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr}, false))
		ir.InsertBefore(at, ir.NewCall("", live, w.Ptr))
	}
	if !t.HasCheck() {
		return
	}
	p := bytePtrAt(mc, fn, ptr, at)
	if t.Kind() == itarget.CallCheck {
		check := mc.Declare(splayCheckCall, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr}, false))
		ir.InsertBefore(at, ir.NewCall("", check, p, w.Ptr))
		return
	}
	check := mc.Declare(splayCheckAccess, ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr, ir.I8Ptr, ir.I64}, false))
	ir.InsertBefore(at, ir.NewCall("", check, p, w.Ptr, accessSize(t)))
}

func (Splay) FailFunction(mc *Context) *ir.Function {
	return mc.Declare(splayFail, ir.FuncOf(ir.Void, nil, false), "noreturn")
}

// bytePtrAt returns ptr as an i8* usable at at. Unlike asBytePtr the cast is
// placed right before the check so it never precedes ptr's definition in a
// different block.
func bytePtrAt(mc *Context, fn *ir.Function, ptr ir.Value, at *ir.Instr) ir.Value {
	if ptr.Type().Equal(ir.I8Ptr) || ir.IsConstant(ptr) {
		return asBytePtr(mc, fn, ptr)
	}
	return ir.InsertBefore(at, ir.NewBitCast(mc.FreshName(ptr.Name()+".i8"), ptr, ir.I8Ptr))
}
