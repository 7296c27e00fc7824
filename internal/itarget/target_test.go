package itarget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/ir"
)

type fakeWitness struct{ id int }

func (*fakeWitness) Kind() WitnessKind    { return WitnessDummy }
func (*fakeWitness) LowerBound() ir.Value { return nil }
func (*fakeWitness) UpperBound() ir.Value { return nil }

// fixture returns a pointer argument and a load through it.
func fixture() (*ir.Argument, *ir.Instr) {
	f := ir.NewFunction("f", ir.FuncOf(ir.Void, []*ir.Type{ir.I8Ptr}, false), "p")
	b := f.AddBlock("entry")
	load := b.Append(ir.NewInstr(ir.OpLoad, "v", ir.I8, f.Params[0]))
	b.Append(ir.NewInstr(ir.OpRet, "", ir.Void))
	return f.Params[0], load
}

func TestDefaultFlags(t *testing.T) {
	p, at := fixture()

	tests := []struct {
		target *ITarget
		kind   Kind
		flags  Flags
	}{
		{NewBounds(p, at), Bounds, RequiresExplicitBounds},
		{NewConstSizeCheck(p, at, 4), ConstSizeCheck, CheckBoth},
		{NewVarSizeCheck(p, at, ir.NewConstInt(ir.I64, 8)), VarSizeCheck, CheckBoth},
		{NewIntermediate(p, at), Intermediate, 0},
		{NewInvariant(p, at), Invariant, 0},
		{NewCallCheck(p, at), CallCheck, CheckBoth},
		{NewCallInvariant(p, at), CallInvariant, 0},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.target.Kind())
			assert.Equal(t, tt.flags, tt.target.Flags())
			assert.True(t, tt.target.IsValid())
			assert.False(t, tt.target.HasBoundWitness())
		})
	}
}

func TestAddFlagsIsMonotonic(t *testing.T) {
	p, at := fixture()
	tg := NewIntermediate(p, at)

	assert.True(t, tg.AddFlags(CheckUpper))
	assert.False(t, tg.AddFlags(CheckUpper), "re-adding a flag is not a change")
	assert.True(t, tg.AddFlags(CheckTemporal))
	assert.Equal(t, CheckUpper|CheckTemporal, tg.Flags())

	other := NewConstSizeCheck(p, at, 1)
	assert.True(t, tg.JoinFlags(other))
	assert.Equal(t, CheckBoth|CheckTemporal, tg.Flags())
	assert.False(t, tg.JoinFlags(other))
}

func TestInvalidatedFlagsPanic(t *testing.T) {
	p, at := fixture()
	tg := NewConstSizeCheck(p, at, 1)
	tg.Invalidate()

	assert.False(t, tg.IsValid())
	assert.PanicsWithError(t, "contract violation in ITarget.Flags: flags of invalidated target const-size-check(1) %p @ %v [upper|lower] invalid", func() {
		tg.Flags()
	})
}

func TestSetBoundWitnessOnce(t *testing.T) {
	p, at := fixture()
	tg := NewConstSizeCheck(p, at, 1)
	w1, w2 := &fakeWitness{1}, &fakeWitness{2}

	tg.SetBoundWitness(w1)
	assert.Same(t, w1, tg.BoundWitness())

	assert.NotPanics(t, func() { tg.SetBoundWitness(w1) })
	assert.Panics(t, func() { tg.SetBoundWitness(w2) })
	assert.Panics(t, func() { tg.SetBoundWitness(nil) })
	assert.Same(t, w1, tg.BoundWitness())
}

func TestExplicitBounds(t *testing.T) {
	p, at := fixture()
	tg := NewBounds(p, at)

	lo, hi := tg.ExplicitBounds()
	assert.Nil(t, lo)
	assert.Nil(t, hi)

	tg.SetExplicitBounds(p, at)
	lo, hi = tg.ExplicitBounds()
	assert.Equal(t, ir.Value(p), lo)
	assert.Equal(t, ir.Value(at), hi)
}

func TestEqualAndIdentity(t *testing.T) {
	p, at := fixture()
	a := NewConstSizeCheck(p, at, 1)
	b := NewConstSizeCheck(p, at, 1)
	c := NewCallInvariant(p, at)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c), "same identity, different kind")
	assert.Equal(t, a.Identity(), c.Identity())

	b.AddFlags(CheckTemporal)
	assert.False(t, a.Equal(b), "flags participate in equality")
}

func TestDedupe(t *testing.T) {
	p, at := fixture()
	a := NewConstSizeCheck(p, at, 1)
	b := NewConstSizeCheck(p, at, 1)
	c := NewConstSizeCheck(p, at, 2)

	out := Dedupe([]*ITarget{a, b, c, a})
	require.Len(t, out, 2)
	assert.Same(t, a, out[0])
	assert.Same(t, c, out[1])
}

func TestString(t *testing.T) {
	p, at := fixture()
	ret := at.Block.Instrs[1]

	assert.Equal(t, "const-size-check(4) %p @ %v [upper|lower]", NewConstSizeCheck(p, at, 4).String())
	assert.Equal(t, "invariant %p @ entry#1 [-]", NewInvariant(p, ret).String())
	assert.Equal(t, "var-size-check(%v) %p @ %v [upper|lower]", NewVarSizeCheck(p, at, at).String())
}

func TestSummarize(t *testing.T) {
	p, at := fixture()
	a := NewConstSizeCheck(p, at, 4)
	b := NewInvariant(p, at)
	c := NewConstSizeCheck(p, at, 8)
	c.Invalidate()
	a.SetBoundWitness(&fakeWitness{})

	s := Summarize([]*ITarget{a, b, c})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Valid)
	assert.Equal(t, 1, s.Checks)
	assert.Equal(t, 1, s.Witness)
	assert.Equal(t, map[Kind]int{ConstSizeCheck: 1, Invariant: 1}, s.ByKind)
	assert.Equal(t, 2, CountValid([]*ITarget{a, b, c}))
	assert.Len(t, Valid([]*ITarget{a, b, c}), 2)
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "-", Flags(0).String())
	assert.Equal(t, "upper|lower|temporal|explicit", (CheckBoth | CheckTemporal | RequiresExplicitBounds).String())
}
