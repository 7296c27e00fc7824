package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeRoundTrip(t *testing.T) {
	tests := []string{
		"i1",
		"i32",
		"i8*",
		"i8**",
		"[4 x i32]",
		"<2 x i8*>",
		"{i8*, i64}",
		"{}",
		"void ()",
		"i8* (i64, ...)",
		"i32 (i8*, [2 x i8])*",
		"opaque",
		"opaque*",
		"void",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			typ, err := ParseType(src)
			require.NoError(t, err)
			assert.Equal(t, src, typ.String())

			again, err := ParseType(typ.String())
			require.NoError(t, err)
			assert.True(t, typ.Equal(again))
		})
	}
}

func TestParseTypeStructure(t *testing.T) {
	fn := MustParseType("i8* (i64, ...)")
	assert.Equal(t, FunctionKind, fn.Kind)
	assert.True(t, fn.Variadic)
	assert.True(t, fn.Elem.Equal(I8Ptr))
	require.Len(t, fn.Fields, 1)
	assert.True(t, fn.Fields[0].Equal(I64))

	arr := MustParseType("[ 3 x {i8, i16} ]")
	assert.Equal(t, ArrayKind, arr.Kind)
	assert.Equal(t, int64(3), arr.Len)
	assert.Equal(t, StructKind, arr.Elem.Kind)
}

func TestParseTypeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"zero width", "i0"},
		{"missing count", "[x i8]"},
		{"missing x", "[4 i8]"},
		{"unclosed array", "[4 x i8"},
		{"unclosed struct", "{i8, i16"},
		{"unknown word", "float"},
		{"trailing input", "i8 junk"},
		{"bad params", "void (i8 i16)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseType(tt.src)
			assert.Error(t, err)
		})
	}
	assert.Panics(t, func() { MustParseType("float") })
}

func TestTypeSizes(t *testing.T) {
	tests := []struct {
		src   string
		sized bool
		size  int64
	}{
		{"i1", true, 1},
		{"i8", true, 1},
		{"i17", true, 3},
		{"i32", true, 4},
		{"i8*", true, PointerSize},
		{"[4 x i32]", true, 16},
		{"<2 x i8*>", true, 16},
		{"{i8*, i64}", true, 16},
		{"{i8, i32}", true, 5},
		{"opaque", false, 0},
		{"[2 x opaque]", false, 0},
		{"{i8, opaque}", false, 1},
		{"void", false, 0},
		{"void ()", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			typ := MustParseType(tt.src)
			assert.Equal(t, tt.sized, typ.Sized())
			assert.Equal(t, tt.size, typ.StoreSize())
		})
	}
}

func TestTypeEqual(t *testing.T) {
	assert.True(t, MustParseType("{i8*, i64}").Equal(StructOf(I8Ptr, I64)))
	assert.False(t, I8.Equal(I32))
	assert.False(t, MustParseType("void (i8)").Equal(MustParseType("void (i8, ...)")))
	assert.False(t, MustParseType("i8 ()").Equal(MustParseType("i32 ()")))
	assert.False(t, ArrayOf(2, I8).Equal(VectorOf(2, I8)))
	assert.False(t, I8.Equal(nil))
}

func TestPointerPredicates(t *testing.T) {
	assert.True(t, I8Ptr.IsPointer())
	assert.False(t, I64.IsPointer())
	assert.True(t, VectorOf(2, I8Ptr).IsPointerVector())
	assert.False(t, VectorOf(2, I8).IsPointerVector())
	assert.False(t, (*Type)(nil).IsPointer())
}
