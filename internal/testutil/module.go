package testutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/compiler"
	"github.com/roach88/meminstrument/internal/ir"
)

// MustLoad builds a module from a YAML document, failing the test on error.
func MustLoad(t testing.TB, src string) *ir.Module {
	t.Helper()
	m, err := compiler.Load([]byte(src))
	require.NoError(t, err, "loading test module")
	return m
}

// MustLoadFile loads a module file from the repository testdata directory.
func MustLoadFile(t testing.TB, name string) *ir.Module {
	t.Helper()
	m, err := compiler.LoadFile(filepath.Join(TestdataDir(), name))
	require.NoError(t, err, "loading %s", name)
	return m
}

// TestdataDir returns the absolute path of the repository's testdata
// directory.
func TestdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "testdata")
}

// Func returns the named function, failing the test if it does not exist.
func Func(t testing.TB, m *ir.Module, name string) *ir.Function {
	t.Helper()
	f := m.Function(name)
	require.NotNil(t, f, "function @%s", name)
	return f
}

// Instr returns the instruction named name in f.
func Instr(t testing.TB, f *ir.Function, name string) *ir.Instr {
	t.Helper()
	for _, i := range f.Instructions() {
		if i.Name() == name {
			return i
		}
	}
	require.FailNow(t, "no instruction %"+name+" in @"+f.Name())
	return nil
}

// At returns the n-th instruction of block in f.
func At(t testing.TB, f *ir.Function, block string, n int) *ir.Instr {
	t.Helper()
	b := f.Block(block)
	require.NotNil(t, b, "block %%%s", block)
	require.Less(t, n, len(b.Instrs))
	return b.Instrs[n]
}
