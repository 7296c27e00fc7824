package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/meminstrument/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrParse            = "E200" // document could not be decoded
	ErrBadType          = "E201" // type string does not parse
	ErrUnknownOpcode    = "E202" // unknown instruction opcode
	ErrDuplicateName    = "E203" // duplicate value, block or function name
	ErrUndefinedValue   = "E204" // operand names an unknown value
	ErrUndefinedBlock   = "E205" // branch or phi names an unknown block
	ErrTerminator       = "E206" // block does not end in exactly one terminator
	ErrPhiIncoming      = "E207" // phi incoming blocks do not match predecessors
	ErrOperandCount     = "E208" // wrong number of operands for opcode
	ErrNotPointer       = "E209" // pointer operand expected
	ErrBadCall          = "E210" // unknown callee or arity mismatch
	ErrPhiPlacement     = "E211" // phi after a non-phi instruction
	ErrMissingSignature = "E212" // function or instruction type missing
)

// ValidationError describes one problem with a module.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is the collected result of loading or validating a
// module. Loading never stops at the first problem.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s):\n  %s", len(errs), strings.Join(msgs, "\n  "))
}

// Validate checks structural rules the builder cannot enforce while
// resolving names. Returns all errors found.
func Validate(m *ir.Module) []ValidationError {
	var errs []ValidationError
	for _, f := range m.Defined() {
		errs = append(errs, validateFunction(f)...)
	}
	return errs
}

func validateFunction(f *ir.Function) []ValidationError {
	var errs []ValidationError
	add := func(field, code, format string, args ...any) {
		errs = append(errs, ValidationError{
			Field:   fmt.Sprintf("functions[%s].%s", f.Name(), field),
			Message: fmt.Sprintf(format, args...),
			Code:    code,
		})
	}

	for _, b := range f.Blocks {
		if b.Terminator() == nil {
			add("blocks["+b.Name+"]", ErrTerminator, "block must end in ret or br")
		}
		seenNonPhi := false
		preds := b.Preds()
		for n, i := range b.Instrs {
			field := fmt.Sprintf("blocks[%s].instrs[%d]", b.Name, n)
			if i.IsTerminator() && n != len(b.Instrs)-1 {
				add(field, ErrTerminator, "%s terminator in the middle of a block", i.Op)
			}
			if i.Op == ir.OpPhi {
				if seenNonPhi {
					add(field, ErrPhiPlacement, "phi %%%s follows a non-phi instruction", i.Name())
				}
				errs = append(errs, validatePhi(f, field, i, preds)...)
			} else {
				seenNonPhi = true
			}
			if msg := checkOperands(i); msg != "" {
				code := ErrOperandCount
				if strings.HasPrefix(msg, "pointer") {
					code = ErrNotPointer
				}
				add(field, code, "%s: %s", i.Op, msg)
			}
		}
	}
	return errs
}

func validatePhi(f *ir.Function, field string, phi *ir.Instr, preds []*ir.Block) []ValidationError {
	var errs []ValidationError
	isPred := make(map[*ir.Block]bool, len(preds))
	for _, p := range preds {
		isPred[p] = true
	}
	covered := map[*ir.Block]bool{}
	for _, in := range phi.Incoming {
		if !isPred[in] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("functions[%s].%s", f.Name(), field),
				Message: fmt.Sprintf("phi %%%s lists %%%s which is not a predecessor", phi.Name(), in.Name),
				Code:    ErrPhiIncoming,
			})
		}
		covered[in] = true
	}
	for _, p := range preds {
		if !covered[p] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("functions[%s].%s", f.Name(), field),
				Message: fmt.Sprintf("phi %%%s has no value for predecessor %%%s", phi.Name(), p.Name),
				Code:    ErrPhiIncoming,
			})
		}
	}
	return errs
}

// checkOperands returns a description of an operand shape problem, or "".
func checkOperands(i *ir.Instr) string {
	want := func(n int) string {
		if len(i.Operands) != n {
			return fmt.Sprintf("expected %d operand(s), got %d", n, len(i.Operands))
		}
		return ""
	}
	switch i.Op {
	case ir.OpLoad:
		if msg := want(1); msg != "" {
			return msg
		}
		if !i.Operands[0].Type().IsPointer() {
			return "pointer operand expected, got " + i.Operands[0].Type().String()
		}
	case ir.OpStore:
		if msg := want(2); msg != "" {
			return msg
		}
		if !i.Operands[1].Type().IsPointer() {
			return "pointer operand expected, got " + i.Operands[1].Type().String()
		}
	case ir.OpGEP:
		if len(i.Operands) < 1 {
			return "expected a base operand"
		}
		if !i.Operands[0].Type().IsPointer() {
			return "pointer operand expected, got " + i.Operands[0].Type().String()
		}
	case ir.OpBitCast, ir.OpAddrSpaceCast, ir.OpIntToPtr, ir.OpPtrToInt, ir.OpExtractValue:
		return want(1)
	case ir.OpSelect:
		return want(3)
	case ir.OpPhi:
		if len(i.Operands) != len(i.Incoming) {
			return "operand and incoming block counts differ"
		}
	case ir.OpRet:
		if len(i.Operands) > 1 {
			return "expected at most one operand"
		}
	case ir.OpBr:
		if len(i.Succs) == 2 && len(i.Operands) != 1 {
			return "conditional branch needs a condition"
		}
		if len(i.Succs) == 0 || len(i.Succs) > 2 {
			return "branch needs one or two targets"
		}
	}
	return ""
}
