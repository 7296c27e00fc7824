package ir

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// Print writes m in a readable LLVM-like text form. The output is stable for
// a given module and is what Fingerprint hashes.
func Print(w io.Writer, m *Module) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; module %s\n", m.Name)
	for _, g := range m.Globals {
		fmt.Fprintf(&sb, "@%s = global %s\n", g.Name(), g.Elem)
	}
	for _, f := range m.Functions {
		if f.IsDeclaration() {
			fmt.Fprintf(&sb, "declare %s\n", signature(f))
		}
	}
	for _, f := range m.Functions {
		if !f.IsDeclaration() {
			sb.WriteByte('\n')
			writeFunction(&sb, f)
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// FunctionText renders a single function definition.
func FunctionText(f *Function) string {
	var sb strings.Builder
	writeFunction(&sb, f)
	return sb.String()
}

func signature(f *Function) string {
	params := make([]string, 0, len(f.Params)+1)
	for _, p := range f.Params {
		params = append(params, fmt.Sprintf("%s %%%s", p.Type(), p.Name()))
	}
	if f.Sig.Variadic {
		params = append(params, "...")
	}
	s := fmt.Sprintf("%s @%s(%s)", f.Sig.Elem, f.Name(), strings.Join(params, ", "))
	if len(f.Attrs) > 0 {
		var attrs []string
		for a, on := range f.Attrs {
			if on {
				attrs = append(attrs, "#"+a)
			}
		}
		slices.Sort(attrs)
		s += " " + strings.Join(attrs, " ")
	}
	return s
}

func writeFunction(sb *strings.Builder, f *Function) {
	fmt.Fprintf(sb, "define %s {\n", signature(f))
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Name)
		for _, i := range b.Instrs {
			fmt.Fprintf(sb, "  %s\n", InstrText(i))
		}
	}
	sb.WriteString("}\n")
}

func typedRef(v Value) string { return v.Type().String() + " " + Ref(v) }

// InstrText renders one instruction.
func InstrText(i *Instr) string {
	var sb strings.Builder
	if i.Type().Kind != VoidKind && i.Name() != "" {
		fmt.Fprintf(&sb, "%%%s = ", i.Name())
	}
	sb.WriteString(i.Op.String())
	switch i.Op {
	case OpAlloca:
		fmt.Fprintf(&sb, " %s", i.AllocType)
		if len(i.Operands) > 0 {
			fmt.Fprintf(&sb, ", %s", typedRef(i.Operands[0]))
		}
	case OpPhi:
		fmt.Fprintf(&sb, " %s", i.Type())
		for n, v := range i.Operands {
			sep := ","
			if n == 0 {
				sep = ""
			}
			fmt.Fprintf(&sb, "%s [%s, %%%s]", sep, Ref(v), i.Incoming[n].Name)
		}
	case OpCall:
		args := make([]string, len(i.Operands))
		for n, a := range i.Operands {
			args[n] = typedRef(a)
		}
		fmt.Fprintf(&sb, " %s %s(%s)", i.Type(), Ref(i.Callee), strings.Join(args, ", "))
	case OpBr:
		if len(i.Operands) > 0 {
			fmt.Fprintf(&sb, " %s,", typedRef(i.Operands[0]))
		}
		for n, s := range i.Succs {
			sep := ","
			if n == 0 {
				sep = ""
			}
			fmt.Fprintf(&sb, "%s label %%%s", sep, s.Name)
		}
	case OpICmp, OpBinOp:
		fmt.Fprintf(&sb, " %s %s", i.Predicate, i.Type())
		writeOperands(&sb, i.Operands)
	default:
		if i.Type().Kind != VoidKind {
			fmt.Fprintf(&sb, " %s", i.Type())
			if len(i.Operands) > 0 {
				sb.WriteByte(',')
			}
		}
		writeOperands(&sb, i.Operands)
		for _, idx := range i.Indices {
			fmt.Fprintf(&sb, ", %d", idx)
		}
	}
	if len(i.Meta) > 0 {
		keys := make([]string, 0, len(i.Meta))
		for k := range i.Meta {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, " !%s=%q", k, i.Meta[k])
		}
	}
	return sb.String()
}

func writeOperands(sb *strings.Builder, ops []Value) {
	for n, o := range ops {
		if n > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(sb, " %s", typedRef(o))
	}
}
