package ir

import "fmt"

// Opcode identifies the operation an instruction performs.
type Opcode int

const (
	OpInvalid Opcode = iota
	OpAlloca
	OpLoad
	OpStore
	OpGEP
	OpBitCast
	OpAddrSpaceCast
	OpIntToPtr
	OpPtrToInt
	OpSelect
	OpPhi
	OpCall
	OpRet
	OpBr
	OpLandingPad
	OpExtractValue
	OpExtractElement
	OpInsertElement
	OpICmp
	OpBinOp
)

var opcodeNames = map[Opcode]string{
	OpAlloca:         "alloca",
	OpLoad:           "load",
	OpStore:          "store",
	OpGEP:            "gep",
	OpBitCast:        "bitcast",
	OpAddrSpaceCast:  "addrspacecast",
	OpIntToPtr:       "inttoptr",
	OpPtrToInt:       "ptrtoint",
	OpSelect:         "select",
	OpPhi:            "phi",
	OpCall:           "call",
	OpRet:            "ret",
	OpBr:             "br",
	OpLandingPad:     "landingpad",
	OpExtractValue:   "extractvalue",
	OpExtractElement: "extractelement",
	OpInsertElement:  "insertelement",
	OpICmp:           "icmp",
	OpBinOp:          "binop",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("invalid(%d)", int(o))
}

// ParseOpcode maps a textual opcode to its Opcode.
func ParseOpcode(s string) (Opcode, bool) {
	for op, name := range opcodeNames {
		if name == s {
			return op, true
		}
	}
	return OpInvalid, false
}

// Instr is a single instruction. Instructions that produce a value are
// Values themselves.
//
// Operand layout per opcode:
//
//	alloca        [count?]            AllocType holds the allocated type
//	load          [ptr]
//	store         [value, ptr]
//	gep           [base, idx...]
//	casts         [src]
//	select        [cond, true, false]
//	phi           [v0, v1, ...]       Incoming[i] is the predecessor for v_i
//	call          [args...]           Callee is the called value
//	ret           [value?]
//	br            [cond?]             Succs holds 1 or 2 targets
//	extractvalue  [aggregate]         Indices holds the path
type Instr struct {
	name      string
	typ       *Type
	Op        Opcode
	Operands  []Value
	Incoming  []*Block
	Callee    Value
	AllocType *Type
	Indices   []int64
	Succs     []*Block
	Predicate string
	Meta      map[string]string
	Block     *Block
}

// NewInstr creates a detached instruction.
func NewInstr(op Opcode, name string, typ *Type, operands ...Value) *Instr {
	if typ == nil {
		typ = Void
	}
	return &Instr{Op: op, name: name, typ: typ, Operands: operands}
}

func (i *Instr) Name() string { return i.name }
func (i *Instr) Type() *Type  { return i.typ }
func (*Instr) irValue()       {}

// SetName renames the instruction.
func (i *Instr) SetName(name string) { i.name = name }

// Func returns the function containing the instruction, or nil when detached.
func (i *Instr) Func() *Function {
	if i.Block == nil {
		return nil
	}
	return i.Block.Func
}

// IsTerminator reports whether the instruction ends a block.
func (i *Instr) IsTerminator() bool { return i.Op == OpRet || i.Op == OpBr }

// HasAllZeroIndices reports whether a GEP leaves its base pointer unchanged.
func (i *Instr) HasAllZeroIndices() bool {
	return i.Op == OpGEP && allZero(i.Operands[1:])
}

// CalledFunction returns the direct callee, or nil for indirect calls.
func (i *Instr) CalledFunction() *Function {
	f, _ := StripPointerCasts(i.Callee).(*Function)
	return f
}

// AddIncoming appends a phi operand.
func (i *Instr) AddIncoming(v Value, from *Block) {
	i.Operands = append(i.Operands, v)
	i.Incoming = append(i.Incoming, from)
}

// Index returns the position of i inside its block, or -1.
func (i *Instr) Index() int {
	if i.Block == nil {
		return -1
	}
	for n, x := range i.Block.Instrs {
		if x == i {
			return n
		}
	}
	return -1
}

// Block is a basic block: straight-line instructions ending in a terminator.
type Block struct {
	Name   string
	Instrs []*Instr
	Func   *Function
}

// Terminator returns the last instruction if it is a terminator.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	if last := b.Instrs[len(b.Instrs)-1]; last.IsTerminator() {
		return last
	}
	return nil
}

// Succs returns the successor blocks.
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Succs
	}
	return nil
}

// Preds returns the predecessor blocks in function block order.
func (b *Block) Preds() []*Block {
	var preds []*Block
	for _, o := range b.Func.Blocks {
		for _, s := range o.Succs() {
			if s == b {
				preds = append(preds, o)
				break
			}
		}
	}
	return preds
}

// FirstNonPhi returns the first instruction that is not a phi.
func (b *Block) FirstNonPhi() *Instr {
	for _, i := range b.Instrs {
		if i.Op != OpPhi {
			return i
		}
	}
	return nil
}

// Append adds an instruction at the end of the block.
func (b *Block) Append(i *Instr) *Instr {
	i.Block = b
	b.Instrs = append(b.Instrs, i)
	return i
}

// Function is a function definition or, when it has no blocks, a declaration.
type Function struct {
	name   string
	Sig    *Type
	Params []*Argument
	Blocks []*Block
	Attrs  map[string]bool
	Module *Module
}

// NewFunction creates a function with parameters named after names.
func NewFunction(name string, sig *Type, names ...string) *Function {
	f := &Function{name: name, Sig: sig, Attrs: map[string]bool{}}
	for i, pt := range sig.Fields {
		n := fmt.Sprintf("arg%d", i)
		if i < len(names) {
			n = names[i]
		}
		f.Params = append(f.Params, &Argument{name: n, typ: pt, Index: i, Func: f})
	}
	return f
}

func (f *Function) Name() string { return f.name }
func (f *Function) Type() *Type  { return PointerTo(f.Sig) }
func (*Function) irValue()       {}

// IsDeclaration reports whether the function has no body.
func (f *Function) IsDeclaration() bool { return len(f.Blocks) == 0 }

// HasAttr reports whether the function carries the named attribute.
func (f *Function) HasAttr(a string) bool { return f.Attrs[a] }

// Entry returns the entry block.
func (f *Function) Entry() *Block {
	if len(f.Blocks) == 0 {
		return nil
	}
	return f.Blocks[0]
}

// AddBlock appends a new empty block.
func (f *Function) AddBlock(name string) *Block {
	b := &Block{Name: name, Func: f}
	f.Blocks = append(f.Blocks, b)
	return b
}

// Block looks up a block by name.
func (f *Function) Block(name string) *Block {
	for _, b := range f.Blocks {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// Instructions returns every instruction in block order.
func (f *Function) Instructions() []*Instr {
	var out []*Instr
	for _, b := range f.Blocks {
		out = append(out, b.Instrs...)
	}
	return out
}

// Module is a compilation unit: globals and functions.
type Module struct {
	Name      string
	Globals   []*Global
	Functions []*Function
}

// NewModule creates an empty module.
func NewModule(name string) *Module { return &Module{Name: name} }

// AddFunction adds f to the module.
func (m *Module) AddFunction(f *Function) *Function {
	f.Module = m
	m.Functions = append(m.Functions, f)
	return f
}

// AddGlobal adds g to the module.
func (m *Module) AddGlobal(g *Global) *Global {
	m.Globals = append(m.Globals, g)
	return g
}

// Function looks up a function by name.
func (m *Module) Function(name string) *Function {
	for _, f := range m.Functions {
		if f.name == name {
			return f
		}
	}
	return nil
}

// Global looks up a global by name.
func (m *Module) Global(name string) *Global {
	for _, g := range m.Globals {
		if g.name == name {
			return g
		}
	}
	return nil
}

// DeclareFunction returns the function called name, adding a declaration
// with signature sig when none exists. Not safe for concurrent use; callers
// sharing a module across goroutines must serialize.
func (m *Module) DeclareFunction(name string, sig *Type) *Function {
	if f := m.Function(name); f != nil {
		return f
	}
	return m.AddFunction(NewFunction(name, sig))
}

// Defined returns the functions that have a body, in module order.
func (m *Module) Defined() []*Function {
	var out []*Function
	for _, f := range m.Functions {
		if !f.IsDeclaration() {
			out = append(out, f)
		}
	}
	return out
}
