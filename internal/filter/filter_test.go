package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/itarget"
	"github.com/roach88/meminstrument/internal/policy"
	"github.com/roach88/meminstrument/internal/testutil"
)

const filterModule = `
name: filters
functions:
  - name: f
    type: "void (i32*, i1)"
    params: [p, c]
    blocks:
      - name: entry
        instrs:
          - {op: load, name: a, type: i32, args: ["%p"]}
          - {op: load, name: b, type: i8, args: ["%p"], meta: {nocheck: "trusted"}}
          - {op: br, args: ["%c"], targets: [then, done]}
      - name: then
        instrs:
          - {op: load, name: d, type: i64, args: ["%p"]}
          - {op: br, targets: [done]}
      - name: done
        instrs:
          - {op: load, name: e, type: i32, args: ["%p"]}
          - {op: ret}
  - name: skipped
    type: "void (i8*)"
    params: [q]
    attrs: [noinstrument]
    blocks:
      - name: entry
        instrs:
          - {op: load, name: v, type: i8, args: ["%q"]}
          - {op: ret}
`

func classify(t *testing.T, m *ir.Module, fn string) []*itarget.ITarget {
	t.Helper()
	p, err := policy.New(policy.NameAccessOnly, policy.Options{})
	require.NoError(t, err)
	return policy.ClassifyFunction(p, testutil.Func(t, m, fn))
}

func validLocations(targets []*itarget.ITarget) []string {
	var out []string
	for _, t := range itarget.Valid(targets) {
		out = append(out, itarget.LocationName(t.Location()))
	}
	return out
}

func TestAnnotation(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)

	targets := Annotation{}.Apply(testutil.Func(t, m, "f"), classify(t, m, "f"))
	assert.Equal(t, []string{"%a", "%d", "%e"}, validLocations(targets))

	skipped := Annotation{}.Apply(testutil.Func(t, m, "skipped"), classify(t, m, "skipped"))
	require.Len(t, skipped, 1)
	assert.Empty(t, validLocations(skipped))
}

func TestDominance(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	f := testutil.Func(t, m, "f")
	targets := newDominance(t, 0).Apply(f, classify(t, m, "f"))
	// %a (4 bytes) dominates %b (1 byte) and %e (4 bytes); %d reads 8 bytes
	// and %e is not dominated by %d.
	assert.Equal(t, []string{"%a", "%d"}, validLocations(targets))
}

func TestDominanceKeepsTemporalChecks(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	f := testutil.Func(t, m, "f")
	targets := classify(t, m, "f")
	for _, tg := range targets {
		tg.AddFlags(itarget.CheckTemporal)
	}

	targets = newDominance(t, 4).Apply(f, targets)
	assert.Len(t, itarget.Valid(targets), 4)
}

func newDominance(t *testing.T, size int) *Dominance {
	t.Helper()
	cache, err := NewDomCache(size)
	require.NoError(t, err)
	return NewDominance(cache)
}

// runDominance runs a dominance-only pipeline over every function of a
// fresh load of filterModule, as the engine does once per run.
func runDominance(t *testing.T, cache *DomCache) map[string][]string {
	t.Helper()
	m := testutil.MustLoad(t, filterModule)
	p, err := NewPipeline([]string{NameDominance}, Options{DomCache: cache})
	require.NoError(t, err)

	valid := map[string][]string{}
	for _, f := range m.Defined() {
		valid[f.Name()] = validLocations(p.Run(f, classify(t, m, f.Name())))
	}
	return valid
}

func TestDomCacheSharedAcrossLoads(t *testing.T) {
	cache, err := NewDomCache(0)
	require.NoError(t, err)
	defined := len(testutil.MustLoad(t, filterModule).Defined())

	first := runDominance(t, cache)
	hits, misses := cache.Stats()
	assert.Equal(t, int64(0), hits)
	assert.Equal(t, int64(defined), misses)

	second := runDominance(t, cache)
	hits, misses = cache.Stats()
	assert.Equal(t, int64(defined), hits, "a second load reuses every tree")
	assert.Equal(t, int64(defined), misses)
	assert.Equal(t, first, second, "rebound trees filter exactly like fresh ones")
	assert.Equal(t, defined, cache.Len())
}

func TestDomCacheEvicts(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	cache, err := NewDomCache(1)
	require.NoError(t, err)

	f := testutil.Func(t, m, "f")
	first := cache.Tree(f)
	assert.Same(t, first, cache.Tree(f), "same function, same tree")

	cache.Tree(testutil.Func(t, m, "skipped"))
	assert.NotSame(t, first, cache.Tree(f), "capacity 1 evicts the older tree")
	assert.Equal(t, 1, cache.Len())
}

func TestDomCacheIgnoresChangedFunction(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	cache, err := NewDomCache(0)
	require.NoError(t, err)

	f := testutil.Func(t, m, "f")
	cache.Tree(f)
	ir.InsertBefore(f.Entry().Terminator(), ir.NewInstr(ir.OpLoad, "z", ir.I8, f.Params[0]))
	cache.Tree(f)

	hits, misses := cache.Stats()
	assert.Equal(t, int64(0), hits, "a new body is a new key")
	assert.Equal(t, int64(2), misses)
}

func TestPipelineBuildsPrivateCache(t *testing.T) {
	p, err := NewPipeline([]string{NameDominance}, Options{DomCacheSize: 2})
	require.NoError(t, err)
	require.Len(t, p, 1)
	d, ok := p[0].(*Dominance)
	require.True(t, ok)
	assert.NotNil(t, d.cache)
}

func TestHotness(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	f := testutil.Func(t, m, "f")
	prof, err := ParseProfile([]byte(`
functions:
  f:
    entry: 10
    then: 5000
  ghost:
    entry: 1
`))
	require.NoError(t, err)

	h := &Hotness{Profile: prof, Threshold: 1000}
	targets := h.Apply(f, classify(t, m, "f"))
	assert.Equal(t, []string{"%a", "%b", "%e"}, validLocations(targets))
	assert.Equal(t, []string{"ghost"}, prof.Unknown(m))
}

func TestHotnessKeepsInvariants(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	f := testutil.Func(t, m, "f")
	load := testutil.Instr(t, f, "d")
	inv := itarget.NewInvariant(f.Params[0], load)

	h := &Hotness{Profile: &Profile{Functions: map[string]map[string]int64{"f": {"then": 10}}}}
	h.Apply(f, []*itarget.ITarget{inv})
	assert.True(t, inv.IsValid())
}

func TestPipeline(t *testing.T) {
	m := testutil.MustLoad(t, filterModule)
	f := testutil.Func(t, m, "f")

	p, err := NewPipeline([]string{NameAnnotation, " dominance"}, Options{})
	require.NoError(t, err)
	require.Len(t, p, 2)

	targets := p.Run(f, classify(t, m, "f"))
	assert.Equal(t, []string{"%a", "%d"}, validLocations(targets))
}

func TestNewErrors(t *testing.T) {
	_, err := New(NameHotness, Options{})
	assert.ErrorContains(t, err, "needs a profile")

	_, err = NewPipeline([]string{"annotation", "bogus"}, Options{})
	assert.ErrorContains(t, err, `unknown filter "bogus"`)
}

func TestParseProfileRejectsUnknownFields(t *testing.T) {
	_, err := ParseProfile([]byte("function:\n  f: {entry: 1}\n"))
	assert.Error(t, err)
}
