package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface over everything an instruction can use as an
// operand. Only the types in this package implement it.
type Value interface {
	Name() string
	Type() *Type
	irValue()
}

// Argument is a formal parameter of a function.
type Argument struct {
	name  string
	typ   *Type
	Index int
	Func  *Function
}

func (a *Argument) Name() string { return a.name }
func (a *Argument) Type() *Type  { return a.typ }
func (*Argument) irValue()       {}

// Global is a module-level variable. Its value is a pointer to Elem.
type Global struct {
	name string
	Elem *Type
}

// NewGlobal creates a global variable of the given element type.
func NewGlobal(name string, elem *Type) *Global { return &Global{name: name, Elem: elem} }

func (g *Global) Name() string { return g.name }
func (g *Global) Type() *Type  { return PointerTo(g.Elem) }
func (*Global) irValue()       {}

// ConstInt is an integer literal.
type ConstInt struct {
	typ *Type
	V   int64
}

// NewConstInt returns an integer constant of type typ.
func NewConstInt(typ *Type, v int64) *ConstInt { return &ConstInt{typ: typ, V: v} }

func (c *ConstInt) Name() string { return strconv.FormatInt(c.V, 10) }
func (c *ConstInt) Type() *Type  { return c.typ }
func (*ConstInt) irValue()       {}

// ConstNull is the null pointer of a pointer type.
type ConstNull struct{ typ *Type }

// NewConstNull returns the null constant of typ.
func NewConstNull(typ *Type) *ConstNull { return &ConstNull{typ: typ} }

func (c *ConstNull) Name() string { return "null" }
func (c *ConstNull) Type() *Type  { return c.typ }
func (*ConstNull) irValue()       {}

// Undef is an undefined value of some type.
type Undef struct{ typ *Type }

// NewUndef returns an undefined value of typ.
func NewUndef(typ *Type) *Undef { return &Undef{typ: typ} }

func (u *Undef) Name() string { return "undef" }
func (u *Undef) Type() *Type  { return u.typ }
func (*Undef) irValue()       {}

// ConstExpr is a constant expression over other constants. Only the
// pointer-producing forms gep, bitcast and select are modeled.
type ConstExpr struct {
	Op       Opcode
	typ      *Type
	Operands []Value
}

// NewConstExpr builds a constant expression.
func NewConstExpr(op Opcode, typ *Type, operands ...Value) *ConstExpr {
	return &ConstExpr{Op: op, typ: typ, Operands: operands}
}

func (c *ConstExpr) Name() string {
	parts := make([]string, len(c.Operands))
	for i, o := range c.Operands {
		parts[i] = Ref(o)
	}
	return fmt.Sprintf("%s:%s(%s)", c.Op, c.typ, strings.Join(parts, ", "))
}
func (c *ConstExpr) Type() *Type { return c.typ }
func (*ConstExpr) irValue()      {}

// IsConstant reports whether v is a compile-time constant (globals and
// functions included, their addresses are link-time constants).
func IsConstant(v Value) bool {
	switch v.(type) {
	case *ConstInt, *ConstNull, *Undef, *ConstExpr, *Global, *Function:
		return true
	}
	return false
}

// Ref renders v the way it is written as an operand: %local, @global or a literal.
func Ref(v Value) string {
	switch x := v.(type) {
	case *Argument, *Instr:
		return "%" + v.Name()
	case *Global, *Function:
		return "@" + v.Name()
	case *ConstInt:
		if x.typ.Kind == IntKind && x.typ.Bits == 1 {
			if x.V != 0 {
				return "true"
			}
			return "false"
		}
		if x.typ.Kind == IntKind && x.typ.Bits == 64 {
			return x.Name()
		}
		return x.Name() + ":" + x.typ.String()
	case *ConstNull:
		return "null:" + x.typ.String()
	case *Undef:
		return "undef:" + x.typ.String()
	case *ConstExpr:
		return x.Name()
	case nil:
		return "<nil>"
	}
	return v.Name()
}

// StripPointerCasts follows bitcasts and all-zero GEPs, returning the
// underlying pointer value.
func StripPointerCasts(v Value) Value {
	for {
		switch x := v.(type) {
		case *Instr:
			if x.Op == OpBitCast || x.Op == OpAddrSpaceCast || x.Op == OpGEP && x.HasAllZeroIndices() {
				v = x.Operands[0]
				continue
			}
		case *ConstExpr:
			if x.Op == OpBitCast || x.Op == OpGEP && allZero(x.Operands[1:]) {
				v = x.Operands[0]
				continue
			}
		}
		return v
	}
}

func allZero(vals []Value) bool {
	for _, v := range vals {
		c, ok := v.(*ConstInt)
		if !ok || c.V != 0 {
			return false
		}
	}
	return true
}
