package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/engine"
	"github.com/roach88/meminstrument/internal/store"
	"github.com/roach88/meminstrument/internal/testutil"
)

func newTestInstrumentCommand(format string) *InstrumentOptions {
	return &InstrumentOptions{
		RootOptions: &RootOptions{Format: format},
		RunIDs:      testutil.NewFixedRunIDGenerator("run-1"),
		Clock:       testutil.NewStepClock(),
	}
}

func TestInstrumentText(t *testing.T) {
	opts := newTestInstrumentCommand("text")
	out, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"))
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "✓ Instrumented basic (run run-1)")
	assert.Contains(t, s, "mechanism splay")
	assert.Contains(t, s, "filters [annotation,dominance]")
	assert.Contains(t, s, "declared: __splay_check_access")
	assert.Regexp(t, `total\s+4\s+2\s+2\s+2`, s)
}

func TestInstrumentJSON(t *testing.T) {
	opts := newTestInstrumentCommand("json")
	out, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"), "--mechanism", "dummy")
	require.NoError(t, err)

	var result InstrumentResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "dummy", result.Report.Run.Mechanism)
	assert.Equal(t, testutil.Epoch.Add(time.Second), result.Report.Run.StartedAt)
	assert.Equal(t, engine.Totals{Functions: 3, Targets: 4, Valid: 2, Witnesses: 2, Checks: 2}, result.Totals)
	require.Len(t, result.Report.Functions, 3)
	assert.Equal(t, "run-1", result.Report.Functions[0].RunID)
}

func TestInstrumentWritesModule(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "basic.ll")

	opts := newTestInstrumentCommand("text")
	_, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"), "-o", outPath)
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "; module basic\n"))
	assert.Contains(t, string(data), "__splay_check_access")
}

func TestInstrumentModuleToStdout(t *testing.T) {
	opts := newTestInstrumentCommand("text")
	out, errOut, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"), "-o", "-")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out.String(), "; module basic\n"))
	assert.NotContains(t, out.String(), "Instrumented")
	assert.Contains(t, errOut.String(), "✓ Instrumented basic")
}

func TestInstrumentDotDir(t *testing.T) {
	dir := t.TempDir()
	opts := newTestInstrumentCommand("text")
	_, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"), "--dot-dir", dir)
	require.NoError(t, err)

	for _, fn := range []string{"twice", "walk", "skipped"} {
		assert.FileExists(t, filepath.Join(dir, engine.DotFileName(fn)))
	}
}

func TestInstrumentDiagnostics(t *testing.T) {
	tests := []struct {
		format string
	}{
		{"text"},
		{"json"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			opts := newTestInstrumentCommand(tt.format)
			out, _, err := execute(t, newInstrumentCommand(opts), modulePath("unsized.yaml"))
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.True(t, engine.IsDiagnosticsError(err))

			if tt.format == "json" {
				var result InstrumentResult
				resp := decodeResponse(t, out, &result)
				assert.Equal(t, "error", resp.Status)
				assert.Equal(t, "DIAGNOSTICS", resp.Error.Code)
				assert.Equal(t, store.StatusFailed, result.Report.Run.Status)
				require.Len(t, result.Report.Diagnostics, 1)
				assert.Equal(t, "bad", result.Report.Diagnostics[0].Function)
				return
			}
			assert.Contains(t, out.String(), "✗ Run run-1 failed [DIAGNOSTICS]")
			assert.Contains(t, out.String(), "1 diagnostic(s):")
			assert.Contains(t, out.String(), "D100")
		})
	}
}

func TestInstrumentContractViolation(t *testing.T) {
	opts := newTestInstrumentCommand("json")
	out, _, err := execute(t, newInstrumentCommand(opts), modulePath("constsel.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var result InstrumentResult
	resp := decodeResponse(t, out, &result)
	assert.Equal(t, "CONTRACT_VIOLATION", resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "(function sel)")
	require.Len(t, result.Report.Functions, 1)
	assert.Equal(t, "first", result.Report.Functions[0].Function)
}

func TestInstrumentCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code string
	}{
		{"missing module", []string{"/nonexistent/module.yaml"}, ErrCodeNotFound},
		{"unknown mechanism", []string{modulePath("basic.yaml"), "--mechanism", "nope"}, ErrCodeOptions},
		{"unknown filter", []string{modulePath("basic.yaml"), "--filter", "annotation,nope"}, ErrCodeOptions},
		{"hotness without profile", []string{modulePath("basic.yaml"), "--filter", "hotness"}, ErrCodeOptions},
		{"missing config", []string{modulePath("basic.yaml")}, ErrCodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newTestInstrumentCommand("json")
			if tt.name == "missing config" {
				opts.Config = "/nonexistent/config.yaml"
			}
			out, _, err := execute(t, newInstrumentCommand(opts), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeResponse(t, out, nil)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestInstrumentInvalidModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: broken
functions:
  - name: f
    type: "void ()"
    blocks:
      - name: entry
        instrs:
          - {op: frobnicate}
          - {op: ret}
`), 0o644))

	opts := newTestInstrumentCommand("text")
	out, _, err := execute(t, newInstrumentCommand(opts), path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out.String(), "Error [E003]")
	assert.Contains(t, out.String(), "E202")
}

func TestInstrumentConfigPrecedence(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "meminstrument.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: v1.2.0\nmechanism: dummy\nstrategy: source\nfilters: [annotation]\n"), 0o644))

	tests := []struct {
		name          string
		env           map[string]string
		args          []string
		wantMechanism string
	}{
		{"config file", nil, nil, "dummy"},
		{"environment over file", map[string]string{"MECHANISM": "lowfat"}, nil, "lowfat"},
		{"flag over environment", map[string]string{"MECHANISM": "lowfat"}, []string{"--mechanism", "splay"}, "splay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := newTestInstrumentCommand("json")
			opts.Config = cfgPath
			args := append([]string{modulePath("basic.yaml")}, tt.args...)
			out, _, err := executeWithEnv(t, tt.env, newInstrumentCommand(opts), args...)
			require.NoError(t, err)

			var result InstrumentResult
			decodeResponse(t, out, &result)
			assert.Equal(t, tt.wantMechanism, result.Report.Run.Mechanism)
			assert.Equal(t, "source", result.Report.Run.Strategy)
			assert.Equal(t, []string{"annotation"}, result.Report.Run.Filters)
		})
	}
}

func TestInstrumentRejectedConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "meminstrument.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("version: v2.0.0\n"), 0o644))

	opts := newTestInstrumentCommand("json")
	opts.Config = cfgPath
	out, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	resp := decodeResponse(t, out, nil)
	assert.Equal(t, ErrCodeConfig, resp.Error.Code)
}

func TestInstrumentTemporalAndNoFilters(t *testing.T) {
	opts := newTestInstrumentCommand("json")
	out, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"),
		"--temporal", "--filter", "", "--no-simplify", "--mechanism", "dummy")
	require.NoError(t, err)

	var result InstrumentResult
	decodeResponse(t, out, &result)
	assert.Equal(t, "access-only+temporal", result.Report.Run.Policy)
	assert.False(t, result.Report.Run.Simplify)
	assert.Empty(t, result.Report.Run.Filters)
	// nothing filtered: every target of every function is valid
	assert.Equal(t, result.Totals.Targets, result.Totals.Valid)
}

func TestInstrumentRecordsRun(t *testing.T) {
	db := filepath.Join(t.TempDir(), "runs.db")
	opts := newTestInstrumentCommand("text")
	_, _, err := execute(t, newInstrumentCommand(opts), modulePath("basic.yaml"), "--db", db)
	require.NoError(t, err)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	detail, err := st.ReadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "basic", detail.Run.Module)
	assert.Len(t, detail.Functions, 3)
}
