package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/meminstrument/internal/diag"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testEpoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// createTestRun creates a successful run started minutes after testEpoch.
func createTestRun(id string, minutes int) Run {
	return Run{
		ID:          id,
		StartedAt:   testEpoch.Add(time.Duration(minutes) * time.Minute),
		Module:      "demo",
		ModuleHash:  "hash-" + id,
		Policy:      "access-only",
		Strategy:    "after-inflow",
		Mechanism:   "splay",
		Simplify:    true,
		Filters:     []string{"annotation", "dominance"},
		Status:      StatusOK,
		ToolVersion: "0.1.0",
	}
}

func createTestFunctionReport(seq int64, fn, fingerprint string) FunctionReport {
	return FunctionReport{
		Seq:         seq,
		Function:    fn,
		Fingerprint: fingerprint,
		Targets:     3,
		Valid:       2,
		ByKind:      map[string]int{"const-size-check": 2},
		Externals:   2,
		Internals:   1,
		Witnesses:   1,
		Checks:      2,
	}
}

func createTestDiagnostic(fn string) diag.Diagnostic {
	return diag.Diagnostic{
		Code:     diag.CodeUnsizedAccess,
		Function: fn,
		Location: "%v",
		Message:  "access through pointer to unsized type opaque",
	}
}
