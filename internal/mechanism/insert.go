package mechanism

import (
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
)

// insertAfterDef places i right after the definition of v. Values without a
// defining instruction (arguments, globals, constants) are available from
// the start of fn, so i goes before the entry block's first non-phi.
func insertAfterDef(fn *ir.Function, v ir.Value, i *ir.Instr) *ir.Instr {
	if def, ok := v.(*ir.Instr); ok && def.Block != nil {
		return ir.InsertAfter(def, i)
	}
	entry := fn.Entry()
	if first := entry.FirstNonPhi(); first != nil {
		return ir.InsertBefore(first, i)
	}
	return entry.Append(i)
}

// asBytePtr returns v as an i8*. Constants are cast with a constant
// expression; other values get a bitcast right after their definition.
func asBytePtr(mc *Context, fn *ir.Function, v ir.Value) ir.Value {
	if v.Type().Equal(ir.I8Ptr) {
		return v
	}
	if ir.IsConstant(v) {
		return ir.NewConstExpr(ir.OpBitCast, ir.I8Ptr, v)
	}
	return insertAfterDef(fn, v, ir.NewBitCast(mc.FreshName(v.Name()+".i8"), v, ir.I8Ptr))
}

// asI64 returns an integer size value widened or narrowed to i64 for
// runtime calls. Constants are rebuilt; others are passed through.
func asI64(v ir.Value) ir.Value {
	if c, ok := v.(*ir.ConstInt); ok && !c.Type().Equal(ir.I64) {
		return ir.NewConstInt(ir.I64, c.V)
	}
	return v
}

// targetFunc returns the function a target lives in.
func targetFunc(t *itarget.ITarget) *ir.Function {
	fn := t.Location().Func()
	if fn == nil {
		itarget.Violation("mechanism", "target %s has a detached location", t)
	}
	return fn
}

// mergeInstr returns the phi or select t's instrumentee is defined by.
func mergeInstr(op string, t *itarget.ITarget, want ir.Opcode) *ir.Instr {
	i, ok := t.Instrumentee().(*ir.Instr)
	if !ok || i.Op != want {
		itarget.Violation(op, "%s is not a %s instruction", ir.Ref(t.Instrumentee()), want)
	}
	return i
}

// accessSize returns the size operand for a check target as an i64 value.
func accessSize(t *itarget.ITarget) ir.Value {
	switch t.Kind() {
	case itarget.ConstSizeCheck:
		n, _ := t.ConstSize()
		return ir.NewConstInt(ir.I64, n)
	case itarget.VarSizeCheck:
		return asI64(t.SizeValue())
	}
	return ir.NewConstInt(ir.I64, 1)
}
