package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/meminstrument/internal/ir"
)

// Load parses and builds a module document.
func Load(data []byte) (*ir.Module, error) {
	src, err := ParseSource(data)
	if err != nil {
		return nil, ValidationErrors{{Field: "module", Message: err.Error(), Code: ErrParse}}
	}
	return Build(src)
}

// LoadFile reads, parses and builds a module file.
func LoadFile(path string) (*ir.Module, error) {
	src, err := ReadSource(path)
	if err != nil {
		return nil, ValidationErrors{{Field: "module", Message: err.Error(), Code: ErrParse}}
	}
	return Build(src)
}

// Build resolves a ModuleSource into an ir.Module and validates it.
// On failure the returned error is a ValidationErrors holding every problem.
func Build(src *ModuleSource) (*ir.Module, error) {
	b := &builder{m: ir.NewModule(normalizeName(src.Name))}
	b.declareGlobals(src.Globals)
	for i, fs := range src.Declarations {
		b.declareFunction(fmt.Sprintf("declarations[%d]", i), fs)
	}
	defs := make([]*ir.Function, len(src.Functions))
	for i, fs := range src.Functions {
		defs[i] = b.declareFunction(fmt.Sprintf("functions[%d]", i), fs)
	}
	for i, fs := range src.Functions {
		if defs[i] != nil {
			b.defineFunction(defs[i], fs)
		}
	}
	if len(b.errs) > 0 {
		return nil, b.errs
	}
	if errs := Validate(b.m); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return b.m, nil
}

// normalizeName puts identifiers in NFC so names that render identically
// compare equal and dumps are byte-stable.
func normalizeName(s string) string { return norm.NFC.String(strings.TrimSpace(s)) }

type builder struct {
	m    *ir.Module
	errs ValidationErrors
}

func (b *builder) errorf(field, code, format string, args ...any) {
	b.errs = append(b.errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
}

func (b *builder) parseType(field, s string) *ir.Type {
	if s == "" {
		b.errorf(field, ErrMissingSignature, "type is required")
		return nil
	}
	t, err := ir.ParseType(s)
	if err != nil {
		b.errorf(field, ErrBadType, "%v", err)
		return nil
	}
	return t
}

func (b *builder) declareGlobals(globals []GlobalSource) {
	for i, gs := range globals {
		field := fmt.Sprintf("globals[%d]", i)
		name := normalizeName(gs.Name)
		if b.m.Global(name) != nil {
			b.errorf(field, ErrDuplicateName, "duplicate global %q", name)
			continue
		}
		if t := b.parseType(field+".type", gs.Type); t != nil {
			b.m.AddGlobal(ir.NewGlobal(name, t))
		}
	}
}

func (b *builder) declareFunction(field string, fs FunctionSource) *ir.Function {
	name := normalizeName(fs.Name)
	if b.m.Function(name) != nil {
		b.errorf(field, ErrDuplicateName, "duplicate function %q", name)
		return nil
	}
	sig := b.parseType(field+".type", fs.Type)
	if sig == nil {
		return nil
	}
	if sig.Kind != ir.FunctionKind {
		b.errorf(field+".type", ErrBadType, "%s is not a function type", sig)
		return nil
	}
	params := make([]string, len(fs.Params))
	for i, p := range fs.Params {
		params[i] = normalizeName(p)
	}
	f := ir.NewFunction(name, sig, params...)
	for _, a := range fs.Attrs {
		f.Attrs[a] = true
	}
	return b.m.AddFunction(f)
}

// funcScope resolves local names inside one function.
type funcScope struct {
	values map[string]ir.Value
	blocks map[string]*ir.Block
}

func (b *builder) defineFunction(f *ir.Function, fs FunctionSource) {
	field := "functions[" + f.Name() + "]"
	scope := &funcScope{values: map[string]ir.Value{}, blocks: map[string]*ir.Block{}}
	for _, p := range f.Params {
		scope.values[p.Name()] = p
	}

	// First pass: blocks and instruction shells so forward references
	// (phis, branches to later blocks) resolve.
	shells := make([][]*ir.Instr, len(fs.Blocks))
	for bi, bs := range fs.Blocks {
		bname := normalizeName(bs.Name)
		if _, dup := scope.blocks[bname]; dup {
			b.errorf(fmt.Sprintf("%s.blocks[%d]", field, bi), ErrDuplicateName, "duplicate block %q", bname)
			continue
		}
		blk := f.AddBlock(bname)
		scope.blocks[bname] = blk
		shells[bi] = make([]*ir.Instr, len(bs.Instrs))
		for ii, is := range bs.Instrs {
			ifield := fmt.Sprintf("%s.blocks[%s].instrs[%d]", field, bname, ii)
			instr := b.shell(ifield, is)
			if instr == nil {
				continue
			}
			if n := instr.Name(); n != "" {
				if _, dup := scope.values[n]; dup {
					b.errorf(ifield, ErrDuplicateName, "duplicate value %%%s", n)
				}
				scope.values[n] = instr
			}
			blk.Append(instr)
			shells[bi][ii] = instr
		}
	}

	// Second pass: operands.
	for bi, bs := range fs.Blocks {
		for ii, is := range bs.Instrs {
			if shells[bi] == nil || shells[bi][ii] == nil {
				continue
			}
			ifield := fmt.Sprintf("%s.blocks[%s].instrs[%d]", field, normalizeName(bs.Name), ii)
			b.resolve(ifield, scope, shells[bi][ii], is)
		}
	}
}

// shell creates an instruction without operands.
func (b *builder) shell(field string, is InstrSource) *ir.Instr {
	op, ok := ir.ParseOpcode(strings.ToLower(is.Op))
	if !ok {
		b.errorf(field, ErrUnknownOpcode, "unknown opcode %q", is.Op)
		return nil
	}
	name := normalizeName(is.Name)

	var typ *ir.Type
	switch op {
	case ir.OpStore, ir.OpBr, ir.OpRet:
		typ = ir.Void
	case ir.OpAlloca:
		alloc := b.parseType(field+".alloc", is.Alloc)
		if alloc == nil {
			return nil
		}
		instr := ir.NewInstr(op, name, ir.PointerTo(alloc))
		instr.AllocType = alloc
		return instr
	case ir.OpCall:
		if is.Type == "" {
			// direct calls take their type from the callee
			if f := b.m.Function(strings.TrimPrefix(is.Callee, "@")); f != nil {
				typ = f.Sig.Elem
				break
			}
		}
		fallthrough
	default:
		typ = b.parseType(field+".type", is.Type)
		if typ == nil {
			return nil
		}
	}
	instr := ir.NewInstr(op, name, typ)
	instr.Indices = is.Indices
	instr.Predicate = is.Pred
	if len(is.Meta) > 0 {
		instr.Meta = is.Meta
	}
	return instr
}

func (b *builder) resolve(field string, scope *funcScope, instr *ir.Instr, is InstrSource) {
	for _, a := range is.Args {
		if v := b.operand(field, scope, a); v != nil {
			instr.Operands = append(instr.Operands, v)
		}
	}
	for _, pair := range is.Incoming {
		if len(pair) != 2 {
			b.errorf(field, ErrPhiIncoming, "incoming entries are [value, block] pairs")
			continue
		}
		v := b.operand(field, scope, pair[0])
		blk, ok := scope.blocks[normalizeName(strings.TrimPrefix(pair[1], "%"))]
		if !ok {
			b.errorf(field, ErrUndefinedBlock, "undefined block %q", pair[1])
			continue
		}
		if v != nil {
			instr.AddIncoming(v, blk)
		}
	}
	for _, t := range is.Targets {
		blk, ok := scope.blocks[normalizeName(strings.TrimPrefix(t, "%"))]
		if !ok {
			b.errorf(field, ErrUndefinedBlock, "undefined block %q", t)
			continue
		}
		instr.Succs = append(instr.Succs, blk)
	}
	if instr.Op == ir.OpCall {
		if is.Callee == "" {
			b.errorf(field, ErrBadCall, "call needs a callee")
			return
		}
		instr.Callee = b.operand(field, scope, is.Callee)
		if f := instr.CalledFunction(); f != nil {
			np := len(f.Sig.Fields)
			if len(instr.Operands) < np || !f.Sig.Variadic && len(instr.Operands) != np {
				b.errorf(field, ErrBadCall, "@%s takes %d argument(s), got %d", f.Name(), np, len(instr.Operands))
			}
		}
	}
}

// operand resolves one textual operand.
func (b *builder) operand(field string, scope *funcScope, s string) ir.Value {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "%"):
		name := normalizeName(s[1:])
		if v, ok := scope.values[name]; ok {
			return v
		}
		b.errorf(field, ErrUndefinedValue, "undefined value %%%s", name)
		return nil
	case strings.HasPrefix(s, "@"):
		name := normalizeName(s[1:])
		if g := b.m.Global(name); g != nil {
			return g
		}
		if f := b.m.Function(name); f != nil {
			return f
		}
		b.errorf(field, ErrUndefinedValue, "undefined global @%s", name)
		return nil
	case s == "true", s == "false":
		v := int64(0)
		if s == "true" {
			v = 1
		}
		return ir.NewConstInt(ir.I1, v)
	}

	head, typ, rest := splitTyped(s)
	switch head {
	case "null", "undef":
		t := ir.I8Ptr
		if typ != "" {
			if t = b.parseType(field, typ); t == nil {
				return nil
			}
		}
		if head == "null" {
			return ir.NewConstNull(t)
		}
		return ir.NewUndef(t)
	case "gep", "bitcast", "select":
		t := b.parseType(field, typ)
		if t == nil {
			return nil
		}
		op, _ := ir.ParseOpcode(head)
		var ops []ir.Value
		for _, a := range splitArgs(rest) {
			v := b.operand(field, scope, a)
			if v == nil {
				return nil
			}
			ops = append(ops, v)
		}
		return ir.NewConstExpr(op, t, ops...)
	}

	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		b.errorf(field, ErrUndefinedValue, "cannot parse operand %q", s)
		return nil
	}
	t := ir.I64
	if typ != "" {
		if t = b.parseType(field, typ); t == nil {
			return nil
		}
	}
	return ir.NewConstInt(t, n)
}

// splitTyped splits "head:type(rest)" or "head:type".
func splitTyped(s string) (head, typ, rest string) {
	colon := strings.IndexByte(s, ':')
	if colon < 0 {
		return s, "", ""
	}
	head, tail := s[:colon], s[colon+1:]
	if open := strings.IndexByte(tail, '('); open >= 0 && strings.HasSuffix(tail, ")") &&
		(head == "gep" || head == "bitcast" || head == "select") {
		return head, strings.TrimSpace(tail[:open]), tail[open+1 : len(tail)-1]
	}
	return head, strings.TrimSpace(tail), ""
}

// splitArgs splits a comma-separated list at nesting depth zero.
func splitArgs(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, c := range s {
		switch c {
		case '(', '[', '{', '<':
			depth++
		case ')', ']', '}', '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(s[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
