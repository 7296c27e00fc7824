package policy

import (
	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// AccessOnly checks pointers where they are dereferenced: loads, stores,
// memory intrinsics and indirect calls.
type AccessOnly struct {
	diags *diag.Collector
}

func (*AccessOnly) Name() string { return NameAccessOnly }

func (p *AccessOnly) Classify(dst []*itarget.ITarget, at *ir.Instr) []*itarget.ITarget {
	switch at.Op {
	case ir.OpLoad:
		return p.access(dst, at, at.Operands[0], at.Type())
	case ir.OpStore:
		return p.access(dst, at, at.Operands[1], at.Operands[0].Type())
	case ir.OpCall:
		callee := at.CalledFunction()
		if mi, ok := lookupIntrinsic(callee); ok {
			return p.intrinsic(dst, at, mi)
		}
		if callee == nil {
			return p.indirectCall(dst, at)
		}
	}
	return dst
}

func (p *AccessOnly) report(at *ir.Instr, code, format string, args ...any) {
	p.diags.Addf(code, at.Func().Name(), itarget.LocationName(at), format, args...)
}

func (p *AccessOnly) access(dst []*itarget.ITarget, at *ir.Instr, ptr ir.Value, accessed *ir.Type) []*itarget.ITarget {
	if ptr.Type().IsPointerVector() {
		p.report(at, diag.CodeVectorPointer, "%s through a vector of pointers", at.Op)
		return dst
	}
	if !accessed.Sized() {
		p.report(at, diag.CodeUnsizedAccess, "%s of unsized type %s through %s", at.Op, accessed, ir.Ref(ptr))
		return dst
	}
	return append(dst, itarget.NewConstSizeCheck(ptr, at, accessed.StoreSize()))
}

func (p *AccessOnly) intrinsic(dst []*itarget.ITarget, at *ir.Instr, mi memIntrinsic) []*itarget.ITarget {
	length := at.Operands[mi.length]
	check := func(ptr ir.Value) *itarget.ITarget {
		if c, ok := length.(*ir.ConstInt); ok {
			return itarget.NewConstSizeCheck(ptr, at, c.V)
		}
		return itarget.NewVarSizeCheck(ptr, at, length)
	}
	dst = append(dst, check(at.Operands[mi.dst]))
	if mi.src >= 0 {
		dst = append(dst, check(at.Operands[mi.src]))
	}
	return dst
}

func (p *AccessOnly) indirectCall(dst []*itarget.ITarget, at *ir.Instr) []*itarget.ITarget {
	ct := at.Callee.Type()
	if !ct.IsPointer() || ct.Elem.Kind != ir.FunctionKind {
		p.report(at, diag.CodeBadCallee, "indirect call through %s of type %s", ir.Ref(at.Callee), ct)
		return dst
	}
	return append(dst, itarget.NewCallCheck(at.Callee, at))
}
