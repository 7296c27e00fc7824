package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/meminstrument/internal/engine"
)

// Scenario defines one instrumentation scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It is also the run ID.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Module is the module file to instrument, relative to the scenario.
	Module string `yaml:"module"`

	// Options override the engine defaults.
	Options Options `yaml:"options,omitempty"`

	// Expect is the expected run outcome. Defaults to status ok.
	Expect Outcome `yaml:"expect,omitempty"`

	// Assertions validate the report, the IR and the call log.
	Assertions []Assertion `yaml:"assertions"`
}

// Options are the engine options a scenario may set. Unset fields keep
// engine.DefaultOptions.
type Options struct {
	Policy    string   `yaml:"policy,omitempty"`
	Strategy  string   `yaml:"strategy,omitempty"`
	Mechanism string   `yaml:"mechanism,omitempty"`
	Simplify  *bool    `yaml:"simplify,omitempty"`
	Temporal  bool     `yaml:"temporal,omitempty"`
	Filters   []string `yaml:"filters,omitempty"`
}

// Outcome is the expected result of the run.
type Outcome struct {
	// Status is "ok" or "failed".
	Status string `yaml:"status,omitempty"`

	// Error is the expected InstrumentError code of a failed run.
	Error string `yaml:"error,omitempty"`

	// Function is the function a contract violation must name.
	Function string `yaml:"function,omitempty"`
}

// Assertion validates one aspect of a run.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Function names the function (function_stats, runtime_calls, diagnostic).
	Function string `yaml:"function,omitempty"`

	// Expect holds expected report fields (function_stats).
	// Subset match - only specified fields are validated.
	Expect map[string]int `yaml:"expect,omitempty"`

	// Op is the mechanism operation (call_count).
	Op string `yaml:"op,omitempty"`

	// Callee is the runtime function (runtime_calls).
	Callee string `yaml:"callee,omitempty"`

	// Count is the expected number of occurrences (call_count, runtime_calls).
	Count int `yaml:"count"`

	// Calls is the expected call order (call_order).
	Calls []string `yaml:"calls,omitempty"`

	// Names are runtime functions (declared).
	Names []string `yaml:"names,omitempty"`

	// Code is the diagnostic code (diagnostic).
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertFunctionStats = "function_stats"
	AssertCallCount     = "call_count"
	AssertCallOrder     = "call_order"
	AssertRuntimeCalls  = "runtime_calls"
	AssertDeclared      = "declared"
	AssertDiagnostic    = "diagnostic"
)

// statFields are the report fields function_stats may name.
var statFields = map[string]bool{
	"targets":       true,
	"valid_targets": true,
	"externals":     true,
	"internals":     true,
	"witnesses":     true,
	"checks":        true,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The module path is resolved relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Module != "" && !filepath.IsAbs(s.Module) {
		s.Module = filepath.Join(filepath.Dir(path), s.Module)
	}
	if _, err := os.Stat(s.Module); err != nil {
		return nil, fmt.Errorf("invalid scenario: module file not found: %s", s.Module)
	}
	return s, nil
}

// ParseScenario decodes and validates a scenario document. The module path
// is left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if s.Expect.Status == "" {
		s.Expect.Status = "ok"
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

// EngineOptions merges the scenario options over the engine defaults.
func (s *Scenario) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	o := s.Options
	if o.Policy != "" {
		opts.Policy = o.Policy
	}
	if o.Strategy != "" {
		opts.Strategy = o.Strategy
	}
	if o.Mechanism != "" {
		opts.Mechanism = o.Mechanism
	}
	if o.Simplify != nil {
		opts.Simplify = *o.Simplify
	}
	opts.Temporal = o.Temporal
	if o.Filters != nil {
		opts.Filters = o.Filters
	}
	return opts
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Module == "" {
		return fmt.Errorf("module is required")
	}
	switch s.Expect.Status {
	case "ok":
		if s.Expect.Error != "" {
			return fmt.Errorf("expect: error requires status failed")
		}
	case "failed":
	default:
		return fmt.Errorf("expect: unknown status %q", s.Expect.Status)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertFunctionStats:
		if a.Function == "" {
			return fmt.Errorf("assertions[%d]: function is required for function_stats", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for function_stats", index)
		}
		for k := range a.Expect {
			if !statFields[k] {
				return fmt.Errorf("assertions[%d]: unknown stat %q", index, k)
			}
		}
	case AssertCallCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for call_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for call_count", index)
		}
	case AssertCallOrder:
		if len(a.Calls) == 0 {
			return fmt.Errorf("assertions[%d]: calls list is required for call_order", index)
		}
	case AssertRuntimeCalls:
		if a.Function == "" || a.Callee == "" {
			return fmt.Errorf("assertions[%d]: function and callee are required for runtime_calls", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for runtime_calls", index)
		}
	case AssertDeclared:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for declared", index)
		}
	case AssertDiagnostic:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for diagnostic", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
