package policy

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// BeforeOutflow extends AccessOnly with witnesses for pointers that leave
// the function: stored to memory, returned, or passed as call arguments.
//
// Arguments to defined (instrumented) functions get a CallInvariant.
// Arguments to external declarations get explicit Bounds, since the callee
// cannot derive them itself.
type BeforeOutflow struct {
	AccessOnly
}

func (*BeforeOutflow) Name() string { return NameBeforeOutflow }

func (p *BeforeOutflow) Classify(dst []*itarget.ITarget, at *ir.Instr) []*itarget.ITarget {
	dst = p.AccessOnly.Classify(dst, at)

	switch at.Op {
	case ir.OpStore:
		if v := at.Operands[0]; escapes(v) {
			dst = append(dst, itarget.NewInvariant(v, at))
		}
	case ir.OpRet:
		if len(at.Operands) == 1 && escapes(at.Operands[0]) {
			dst = append(dst, itarget.NewInvariant(at.Operands[0], at))
		}
	case ir.OpCall:
		callee := at.CalledFunction()
		if isIntrinsic(callee) {
			break
		}
		external := callee != nil && callee.IsDeclaration()
		for _, arg := range at.Operands {
			if !escapes(arg) {
				continue
			}
			if external {
				dst = append(dst, itarget.NewBounds(arg, at))
			} else {
				dst = append(dst, itarget.NewCallInvariant(arg, at))
			}
		}
	}
	return dst
}

// escapes reports whether v is a pointer whose witness must travel with it.
func escapes(v ir.Value) bool {
	if !v.Type().IsPointer() || trivialPointer(v) {
		return false
	}
	// function addresses are checked at the call, not when passed around
	_, isFunc := ir.StripPointerCasts(v).(*ir.Function)
	return !isFunc
}
