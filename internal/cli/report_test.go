package cli

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/store"
	"github.com/roach88/meminstrument/internal/testutil"
)

// setupRunDB records a successful run of basic.yaml as run-ok and a failed
// run of unsized.yaml as run-failed.
func setupRunDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "runs.db")

	ok := &InstrumentOptions{
		RootOptions: &RootOptions{Format: "text"},
		RunIDs:      testutil.NewFixedRunIDGenerator("run-ok"),
		Clock:       testutil.NewStepClock(),
	}
	_, _, err := execute(t, newInstrumentCommand(ok), modulePath("basic.yaml"), "--db", db)
	require.NoError(t, err)

	failed := &InstrumentOptions{
		RootOptions: &RootOptions{Format: "text"},
		RunIDs:      testutil.NewFixedRunIDGenerator("run-failed"),
		Clock:       testutil.NewStepClock(),
	}
	_, _, err = execute(t, newInstrumentCommand(failed), modulePath("unsized.yaml"), "--db", db)
	require.Error(t, err)

	return db
}

func TestReportListRuns(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "json"}), "--db", db)
	require.NoError(t, err)

	var runs []store.Run
	resp := decodeResponse(t, out, &runs)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, runs, 2)
	// equal start times fall back to ID order
	assert.Equal(t, "run-failed", runs[0].ID)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
	assert.Equal(t, "run-ok", runs[1].ID)
}

func TestReportListRunsText(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "text"}), "--db", db, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "RUN")
	assert.Contains(t, out.String(), "run-failed")
	assert.NotContains(t, out.String(), "run-ok")
}

func TestReportShowRun(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "json"}), "--db", db, "run-ok")
	require.NoError(t, err)

	var detail store.RunDetail
	resp := decodeResponse(t, out, &detail)
	assert.Equal(t, "run-ok", resp.RunID)
	assert.Equal(t, "basic", detail.Run.Module)
	require.Len(t, detail.Functions, 3)
	assert.Equal(t, "twice", detail.Functions[0].Function)
	assert.Empty(t, detail.Diagnostics)
}

func TestReportShowFailedRunText(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "text"}), "--db", db, "run-failed")
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "✗ Run run-failed: unsized")
	assert.Contains(t, s, "error: DIAGNOSTICS")
	assert.Contains(t, s, "1 diagnostic(s):")
}

func TestReportFunctionHistory(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "json"}), "--db", db, "--function", "walk")
	require.NoError(t, err)

	var reports []store.FunctionReport
	decodeResponse(t, out, &reports)
	require.Len(t, reports, 1)
	assert.Equal(t, "run-ok", reports[0].RunID)
	assert.Equal(t, 1, reports[0].Checks)

	out, _, err = execute(t, NewReportCommand(&RootOptions{Format: "json"}), "--db", db, "--fingerprint", reports[0].Fingerprint)
	require.NoError(t, err)
	var byHash []store.FunctionReport
	decodeResponse(t, out, &byHash)
	require.Len(t, byHash, 1)
	assert.Equal(t, "walk", byHash[0].Function)
}

func setSchemaVersion(t *testing.T, db string, v int) {
	t.Helper()
	raw, err := sql.Open("sqlite3", db)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Exec(fmt.Sprintf("PRAGMA user_version = %d", v))
	require.NoError(t, err)
}

func TestReportMigratesOlderDatabase(t *testing.T) {
	db := setupRunDB(t)
	setSchemaVersion(t, db, 1)

	out, errOut, err := execute(t, NewReportCommand(&RootOptions{Format: "text", Verbose: true}), "--db", db, "run-ok")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "run-ok")
	assert.Contains(t, errOut.String(), fmt.Sprintf("from schema v1 to v%d", store.SchemaVersion))

	st, err := store.Open(db, store.ReadOnly())
	require.NoError(t, err, "the database is current after the report")
	require.NoError(t, st.Close())
}

func TestReportRefusesNewerDatabase(t *testing.T) {
	db := setupRunDB(t)
	setSchemaVersion(t, db, store.SchemaVersion+1)

	out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "json"}), "--db", db)
	require.Error(t, err)
	resp := decodeResponse(t, out, nil)
	assert.Equal(t, ErrCodeStore, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "newer than supported")
}

func TestReportErrors(t *testing.T) {
	db := setupRunDB(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown run", []string{"--db", db, "nope"}, ErrCodeNotFound},
		{"missing database", []string{"--db", filepath.Join(t.TempDir(), "absent.db")}, ErrCodeNotFound},
		{"no database", nil, ErrCodeStore},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, NewReportCommand(&RootOptions{Format: "json"}), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			resp := decodeResponse(t, out, nil)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func TestReportDatabaseFromEnvironment(t *testing.T) {
	db := setupRunDB(t)

	out, _, err := executeWithEnv(t, map[string]string{"DB": db}, NewReportCommand(&RootOptions{Format: "json"}))
	require.NoError(t, err)

	var runs []store.Run
	decodeResponse(t, out, &runs)
	assert.Len(t, runs, 2)
}
