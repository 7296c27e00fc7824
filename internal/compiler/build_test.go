package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/ir"
)

func TestLoadStraightLine(t *testing.T) {
	m, err := Load([]byte(straightLine))
	require.NoError(t, err)

	assert.Equal(t, "straight", m.Name)
	require.Len(t, m.Functions, 3)
	assert.True(t, m.Function("malloc").IsDeclaration())
	assert.True(t, m.Function("malloc").HasAttr("allocator"))
	assert.Len(t, m.Defined(), 2)

	first := m.Function("first")
	require.NotNil(t, first)
	require.Len(t, first.Params, 1)
	assert.Equal(t, "p", first.Params[0].Name())

	load := first.Entry().Instrs[0]
	assert.Equal(t, ir.OpLoad, load.Op)
	assert.Same(t, first.Params[0], load.Operands[0])
}

func TestLoadInfersCallType(t *testing.T) {
	m, err := Load([]byte(straightLine))
	require.NoError(t, err)

	call := m.Function("alloc").Entry().Instrs[0]
	require.Equal(t, ir.OpCall, call.Op)
	assert.Equal(t, "i8*", call.Type().String())
	assert.Same(t, m.Function("malloc"), call.CalledFunction())

	c, ok := call.Operands[0].(*ir.ConstInt)
	require.True(t, ok)
	assert.Equal(t, int64(16), c.V)
	assert.Equal(t, "i64", c.Type().String())
}

func TestLoadForwardPhiReference(t *testing.T) {
	m, err := Load([]byte(loopModule))
	require.NoError(t, err)

	f := m.Function("walk")
	loop := f.Block("loop")
	phi := loop.Instrs[0]
	require.Equal(t, ir.OpPhi, phi.Op)
	require.Len(t, phi.Operands, 2)

	assert.Same(t, f.Params[0], phi.Operands[0])
	assert.Same(t, f.Block("entry"), phi.Incoming[0])
	assert.Same(t, loop.Instrs[2], phi.Operands[1])
	assert.Same(t, loop, phi.Incoming[1])
}

func TestLoadConstantExpressions(t *testing.T) {
	src := `
name: consts
globals:
  - {name: table, type: "[4 x i32]"}
functions:
  - name: f
    type: "i32 ()"
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i32, args: ["gep:i32*(@table, 0, 2)"]}
          - {op: ret, args: ["%v"]}
`
	m, err := Load([]byte(src))
	require.NoError(t, err)

	load := m.Function("f").Entry().Instrs[0]
	ce, ok := load.Operands[0].(*ir.ConstExpr)
	require.True(t, ok)
	assert.Equal(t, ir.OpGEP, ce.Op)
	assert.Same(t, m.Global("table"), ce.Operands[0])
	assert.Len(t, ce.Operands, 3)
}

func TestLoadNormalizesNames(t *testing.T) {
	// The parameter is declared decomposed and used precomposed.
	src := "name: n\nfunctions:\n  - name: f\n    type: \"void (i8*)\"\n    params: [\"cafe\u0301\"]\n" +
		"    blocks:\n      - name: entry\n        instrs:\n" +
		"          - {op: load, name: v, type: i8, args: [\"%caf\u00e9\"]}\n          - {op: ret}\n"
	m, err := Load([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9", m.Function("f").Params[0].Name())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	src := `
name: typo
functions:
  - name: f
    type: "void ()"
    blocks:
      - name: entry
        instr:
          - {op: ret}
`
	_, err := Load([]byte(src))
	require.Error(t, err)

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Equal(t, ErrParse, errs[0].Code)
}

func TestLoadCollectsAllErrors(t *testing.T) {
	src := `
name: broken
functions:
  - name: f
    type: "void (i8*)"
    params: [p]
    blocks:
      - name: entry
        instrs:
          - {op: frobnicate, name: x, type: i8}
          - {op: load, name: v, type: i8, args: ["%missing"]}
          - {op: br, targets: [nowhere]}
`
	_, err := Load([]byte(src))
	require.Error(t, err)

	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	codes := map[string]bool{}
	for _, e := range errs {
		codes[e.Code] = true
	}
	assert.True(t, codes[ErrUnknownOpcode])
	assert.True(t, codes[ErrUndefinedValue])
	assert.True(t, codes[ErrUndefinedBlock])
}

func TestLoadDuplicateNames(t *testing.T) {
	src := `
name: dup
functions:
  - name: f
    type: "void (i8*)"
    params: [p]
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i8, args: ["%p"]}
          - {op: load, name: v, type: i8, args: ["%p"]}
          - {op: ret}
  - name: f
    type: "void ()"
`
	_, err := Load([]byte(src))
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))

	n := 0
	for _, e := range errs {
		if e.Code == ErrDuplicateName {
			n++
		}
	}
	assert.Equal(t, 2, n)
}

func TestLoadCallArity(t *testing.T) {
	src := `
name: arity
declarations:
  - {name: free, type: "void (i8*)"}
functions:
  - name: f
    type: "void (i8*)"
    params: [p]
    blocks:
      - name: entry
        instrs:
          - {op: call, callee: "@free", args: ["%p", "%p"]}
          - {op: ret}
`
	_, err := Load([]byte(src))
	var errs ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Equal(t, ErrBadCall, errs[0].Code)
}
