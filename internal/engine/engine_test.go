package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/diag"
	"github.com/roach88/meminstrument/internal/filter"
	"github.com/roach88/meminstrument/internal/ir"
	"github.com/roach88/meminstrument/internal/mechanism"
	"github.com/roach88/meminstrument/internal/policy"
	"github.com/roach88/meminstrument/internal/store"
	"github.com/roach88/meminstrument/internal/testutil"
	"github.com/roach88/meminstrument/internal/witness"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T, opts Options, extra ...Option) *Engine {
	t.Helper()
	options := append([]Option{
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-1")),
		WithClock(testutil.NewStepClock()),
	}, extra...)
	e, err := New(opts, options...)
	require.NoError(t, err)
	return e
}

func callsTo(f *ir.Function, name string) int {
	n := 0
	for _, i := range f.Instructions() {
		if i.Op == ir.OpCall && i.CalledFunction() != nil && i.CalledFunction().Name() == name {
			n++
		}
	}
	return n
}

func TestNew_RejectsUnknownNames(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Options)
		want string
	}{
		{"policy", func(o *Options) { o.Policy = "everything" }, `unknown policy "everything"`},
		{"strategy", func(o *Options) { o.Strategy = "eager" }, `"eager"`},
		{"mechanism", func(o *Options) { o.Mechanism = "asan" }, `"asan"`},
		{"filter", func(o *Options) { o.Filters = []string{"magic"} }, `"magic"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.edit(&opts)
			_, err := New(opts)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestRun_Splay(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	e := newTestEngine(t, DefaultOptions())

	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.Run.ID)
	assert.Equal(t, testutil.Epoch.Add(time.Second), report.Run.StartedAt)
	assert.Equal(t, store.StatusOK, report.Run.Status)
	assert.Equal(t, "splay", report.Run.Mechanism)
	assert.Equal(t, []string{"annotation", "dominance"}, report.Run.Filters)

	totals := report.Totals()
	assert.Equal(t, 3, totals.Functions)
	assert.Equal(t, 4, totals.Targets)
	assert.Equal(t, 2, totals.Valid)
	assert.Equal(t, 2, totals.Checks)
	assert.Equal(t, 1, report.Functions[0].Witnesses)

	require.Len(t, report.Functions, 3)
	assert.Equal(t, "twice", report.Functions[0].Function)
	assert.Equal(t, int64(1), report.Functions[0].Seq)
	assert.Equal(t, map[string]int{"const-size-check": 2}, report.Functions[0].ByKind)
	assert.Equal(t, 1, report.Functions[0].Valid)
	assert.Equal(t, 0, report.Functions[2].Valid)
	assert.Equal(t, int64(3), report.Functions[2].Seq)

	assert.Equal(t, 1, callsTo(testutil.Func(t, m, "twice"), "__splay_check_access"))
	assert.Equal(t, 1, callsTo(testutil.Func(t, m, "walk"), "__splay_check_access"))
	assert.Equal(t, 0, callsTo(testutil.Func(t, m, "skipped"), "__splay_check_access"))
	assert.Contains(t, report.Declared, "__splay_check_access")
	assert.Contains(t, report.Declared, "__splay_fail")
}

func TestRun_SharedDomCacheAcrossReloads(t *testing.T) {
	cache, err := filter.NewDomCache(0)
	require.NoError(t, err)

	first := testutil.MustLoadFile(t, "modules/basic.yaml")
	report1, err := newTestEngine(t, DefaultOptions(), WithDomCache(cache)).Run(context.Background(), first)
	require.NoError(t, err)
	hits, misses := cache.Stats()
	assert.Zero(t, hits)
	require.Positive(t, misses)

	second := testutil.MustLoadFile(t, "modules/basic.yaml")
	report2, err := newTestEngine(t, DefaultOptions(), WithDomCache(cache)).Run(context.Background(), second)
	require.NoError(t, err)
	hits, _ = cache.Stats()
	assert.Equal(t, misses, hits, "every tree of the reload comes from the cache")

	assert.Equal(t, report1.Totals(), report2.Totals())
	assert.Equal(t, ir.ModuleFingerprint(first), ir.ModuleFingerprint(second))
}

func lastBefore(t *testing.T, f *ir.Function, op ir.Opcode) *ir.Instr {
	t.Helper()
	for _, i := range f.Instructions() {
		if i.Op == op {
			require.Positive(t, i.Index(), "nothing precedes %s", i.Op)
			return i.Block.Instrs[i.Index()-1]
		}
	}
	require.FailNow(t, "no "+op.String()+" in @"+f.Name())
	return nil
}

func TestRun_LowfatChecksEscapingPointers(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/escape.yaml")
	opts := DefaultOptions()
	opts.Policy = policy.NameBeforeOutflow
	opts.Mechanism = mechanism.NameLowfat

	report, err := newTestEngine(t, opts).Run(context.Background(), m)
	require.NoError(t, err)

	publish := testutil.Func(t, m, "publish")
	assert.Equal(t, 2, callsTo(publish, "__lowfat_check_invariant"), "stored and returned pointers")
	assert.Equal(t, 1, callsTo(testutil.Func(t, m, "forward"), "__lowfat_check_invariant"))
	assert.Equal(t, 0, callsTo(testutil.Func(t, m, "sink"), "__lowfat_check_invariant"))

	ret := lastBefore(t, publish, ir.OpRet)
	require.Equal(t, ir.OpCall, ret.Op)
	assert.Equal(t, "__lowfat_check_invariant", ret.CalledFunction().Name())
	assert.Equal(t, "h", ret.Operands[0].Name())

	for _, fr := range report.Functions {
		f := testutil.Func(t, m, fr.Function)
		assert.Equal(t, callsTo(f, "__lowfat_check_deref")+callsTo(f, "__lowfat_check_invariant"), fr.Checks, fr.Function)
	}
}

func TestRun_InvariantsNeedNoCheckElsewhere(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = policy.NameBeforeOutflow

	m := testutil.MustLoadFile(t, "modules/escape.yaml")
	rec := mechanism.NewRecorder(nil)
	report, err := newTestEngine(t, opts, WithMechanism(rec)).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Zero(t, rec.Count(mechanism.OpInvariant))
	assert.Equal(t, rec.Count(mechanism.OpInsertCheck), report.Totals().Checks)

	m = testutil.MustLoadFile(t, "modules/escape.yaml")
	lowfat := mechanism.NewRecorder(mechanism.Lowfat{})
	_, err = newTestEngine(t, opts, WithMechanism(lowfat)).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 3, lowfat.Count(mechanism.OpInvariant))
}

func TestRun_FingerprintIsTakenBeforeInstrumentation(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	before := ir.ModuleFingerprint(m)

	report, err := newTestEngine(t, DefaultOptions()).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, before, report.Run.ModuleHash)
	assert.NotEqual(t, before, ir.ModuleFingerprint(m))
}

func TestRun_RecorderSeesEveryCheck(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	rec := mechanism.NewRecorder(nil)
	e := newTestEngine(t, DefaultOptions(), WithMechanism(rec))

	report, err := e.Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "dummy", report.Run.Mechanism)
	assert.Equal(t, 1, rec.Count(mechanism.OpInitialize))
	assert.Equal(t, 2, rec.Count(mechanism.OpInsertCheck))
}

func TestRun_Temporal(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	rec := mechanism.NewRecorder(nil)
	opts := DefaultOptions()
	opts.Temporal = true

	report, err := newTestEngine(t, opts, WithMechanism(rec)).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "access-only+temporal", report.Run.Policy)
	// temporal checks are never subsumed by dominance
	assert.Equal(t, 3, rec.Count(mechanism.OpInsertCheck))
}

func TestRun_SourceStrategy(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	opts := DefaultOptions()
	opts.Strategy = witness.NameSource
	opts.Mechanism = mechanism.NameLowfat

	report, err := newTestEngine(t, opts).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, "source", report.Run.Strategy)
	assert.Equal(t, 2, report.Totals().Checks)
}

func TestRun_DiagnosticsLeaveModuleUntouched(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/unsized.yaml")
	before := ir.ModuleFingerprint(m)
	s := setupTestStore(t)

	report, err := newTestEngine(t, DefaultOptions(), WithStore(s)).Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, IsDiagnosticsError(err))

	assert.Equal(t, before, ir.ModuleFingerprint(m), "no function may be instrumented")
	assert.Empty(t, report.Functions)
	require.Len(t, report.Diagnostics, 1)
	assert.Equal(t, diag.CodeUnsizedAccess, report.Diagnostics[0].Code)
	assert.Equal(t, "bad", report.Diagnostics[0].Function)
	assert.Equal(t, store.StatusFailed, report.Run.Status)

	stored, err := s.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Run.Status)
	assert.Equal(t, report.Diagnostics, stored.Diagnostics)
}

func TestRun_ContractViolationStopsAtFunction(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/constsel.yaml")

	report, err := newTestEngine(t, DefaultOptions()).Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, IsContractViolation(err))

	var ie *InstrumentError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "sel", ie.Function)
	assert.Equal(t, "run-1", ie.RunID)

	require.Len(t, report.Functions, 1)
	assert.Equal(t, "first", report.Functions[0].Function)
	assert.Equal(t, 0, callsTo(testutil.Func(t, m, "after"), "__splay_check_access"))
	assert.Contains(t, report.Run.Error, "CONTRACT_VIOLATION")
}

func TestRun_PersistsReport(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	s := setupTestStore(t)
	ctx := context.Background()

	report, err := newTestEngine(t, DefaultOptions(), WithStore(s)).Run(ctx, m)
	require.NoError(t, err)

	stored, err := s.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Detail(), stored)

	history, err := s.FunctionHistory(ctx, "walk")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, report.Functions[1].Fingerprint, history[0].Fingerprint)
}

func TestRun_StoreFailure(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	s := setupTestStore(t)
	require.NoError(t, s.Close())

	_, err := newTestEngine(t, DefaultOptions(), WithStore(s)).Run(context.Background(), m)
	require.Error(t, err)
	assert.True(t, IsStoreError(err))
}

func TestRun_WritesDotFiles(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	opts := DefaultOptions()
	opts.DotDir = filepath.Join(t.TempDir(), "dot")

	_, err := newTestEngine(t, opts).Run(context.Background(), m)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(opts.DotDir, DotFileName("walk")))
	require.NoError(t, err)
	assert.Contains(t, string(data), "digraph")
}

func TestRun_Cancelled(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newTestEngine(t, DefaultOptions()).Run(ctx, m)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, store.StatusFailed, report.Run.Status)
}

func TestRun_CancelledRunIsRecorded(t *testing.T) {
	m := testutil.MustLoadFile(t, "modules/basic.yaml")
	s := setupTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestEngine(t, DefaultOptions(), WithStore(s)).Run(ctx, m)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := s.ReadRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, stored.Run.Status)
	assert.Contains(t, stored.Run.Error, "context canceled")
}
