package ir

import "slices"

// InsertBefore places i immediately before pos in pos's block.
func InsertBefore(pos, i *Instr) *Instr {
	b := pos.Block
	idx := pos.Index()
	if idx < 0 {
		panic("ir: insertion point is detached")
	}
	i.Block = b
	b.Instrs = slices.Insert(b.Instrs, idx, i)
	return i
}

// InsertAfter places i immediately after pos. When pos is a phi and i is not,
// i goes after the block's phi group so phis stay contiguous.
func InsertAfter(pos, i *Instr) *Instr {
	if pos.Op == OpPhi && i.Op != OpPhi {
		if first := pos.Block.FirstNonPhi(); first != nil {
			return InsertBefore(first, i)
		}
		return pos.Block.Append(i)
	}
	b := pos.Block
	idx := pos.Index()
	if idx < 0 {
		panic("ir: insertion point is detached")
	}
	i.Block = b
	b.Instrs = slices.Insert(b.Instrs, idx+1, i)
	return i
}

// InsertPhi places a phi at the start of b.
func InsertPhi(b *Block, phi *Instr) *Instr {
	phi.Block = b
	b.Instrs = slices.Insert(b.Instrs, 0, phi)
	return phi
}

// NewCall builds a call to fn. The result type is fn's return type.
func NewCall(name string, fn *Function, args ...Value) *Instr {
	i := NewInstr(OpCall, name, fn.Sig.Elem, args...)
	i.Callee = fn
	return i
}

// NewPhi builds an empty phi of type typ.
func NewPhi(name string, typ *Type) *Instr { return NewInstr(OpPhi, name, typ) }

// NewSelect builds a select.
func NewSelect(name string, cond, t, f Value) *Instr {
	return NewInstr(OpSelect, name, t.Type(), cond, t, f)
}

// NewBitCast builds a bitcast of v to typ.
func NewBitCast(name string, v Value, typ *Type) *Instr {
	return NewInstr(OpBitCast, name, typ, v)
}

// CastTo returns v unchanged when it already has type typ, and otherwise a
// bitcast inserted before pos.
func CastTo(v Value, typ *Type, pos *Instr, name string) Value {
	if v.Type().Equal(typ) {
		return v
	}
	return InsertBefore(pos, NewBitCast(name, v, typ))
}
