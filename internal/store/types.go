package store

import (
	"time"

	"github.com/roach88/meminstrument/internal/diag"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one engine run over a module.
type Run struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	Module      string    `json:"module"`
	ModuleHash  string    `json:"module_hash"`
	Policy      string    `json:"policy"`
	Strategy    string    `json:"strategy"`
	Mechanism   string    `json:"mechanism"`
	Simplify    bool      `json:"simplify"`
	Filters     []string  `json:"filters"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ToolVersion string    `json:"tool_version"`
}

// FunctionReport holds the statistics of one instrumented function.
type FunctionReport struct {
	RunID       string         `json:"run_id,omitempty"`
	Seq         int64          `json:"seq"`
	Function    string         `json:"function"`
	Fingerprint string         `json:"fingerprint"`
	Targets     int            `json:"targets"`
	Valid       int            `json:"valid_targets"`
	ByKind      map[string]int `json:"by_kind"`
	Externals   int            `json:"externals"`
	Internals   int            `json:"internals"`
	Witnesses   int            `json:"witnesses"`
	Checks      int            `json:"checks"`
}

// RunDetail is a run with everything recorded for it.
type RunDetail struct {
	Run         Run               `json:"run"`
	Functions   []FunctionReport  `json:"functions"`
	Diagnostics []diag.Diagnostic `json:"diagnostics"`
}
