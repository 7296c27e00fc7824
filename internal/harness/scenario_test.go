package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/engine"
)

func TestLoadScenarioResolvesModule(t *testing.T) {
	s := loadScenario(t, "basic_dummy")
	abs, err := filepath.Abs(s.Module)
	require.NoError(t, err)
	root, err := filepath.Abs(filepath.Join("..", "..", "testdata", "modules", "basic.yaml"))
	require.NoError(t, err)
	assert.Equal(t, root, abs)
	assert.Equal(t, "ok", s.Expect.Status, "status defaults to ok")
}

func TestLoadScenarioMissingModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: s
description: d
module: nowhere.yaml
assertions:
  - {type: call_count, op: initialize, count: 1}
`), 0o644))
	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "module file not found")
}

func TestParseScenarioRejects(t *testing.T) {
	base := "name: s\ndescription: d\nmodule: m.yaml\n"
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown field", base + "assertion: []\n", "field assertion not found"},
		{"no name", "description: d\nmodule: m.yaml\n", "name is required"},
		{"no module", "name: s\ndescription: d\nassertions: [{type: declared, names: [x]}]\n", "module is required"},
		{"no assertions", base, "assertions list is required"},
		{"bad status", base + "expect: {status: maybe}\nassertions: [{type: declared, names: [x]}]\n", `unknown status "maybe"`},
		{"error without failure", base + "expect: {error: DIAGNOSTICS}\nassertions: [{type: declared, names: [x]}]\n", "requires status failed"},
		{"unknown type", base + "assertions: [{type: vibes}]\n", `unknown assertion type "vibes"`},
		{"unknown stat", base + "assertions: [{type: function_stats, function: f, expect: {speed: 1}}]\n", `unknown stat "speed"`},
		{"stats without function", base + "assertions: [{type: function_stats, expect: {checks: 1}}]\n", "function is required"},
		{"negative count", base + "assertions: [{type: call_count, op: insertCheck, count: -1}]\n", "non-negative"},
		{"order without calls", base + "assertions: [{type: call_order}]\n", "calls list is required"},
		{"runtime without callee", base + "assertions: [{type: runtime_calls, function: f}]\n", "callee are required"},
		{"diagnostic without code", base + "assertions: [{type: diagnostic}]\n", "code is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestScenarioEngineOptions(t *testing.T) {
	off := false
	s := &Scenario{Options: Options{Mechanism: "lowfat", Simplify: &off, Filters: []string{}}}
	opts := s.EngineOptions()

	want := engine.DefaultOptions()
	want.Mechanism = "lowfat"
	want.Simplify = false
	want.Filters = []string{}
	assert.Equal(t, want, opts)

	assert.Equal(t, engine.DefaultOptions(), (&Scenario{}).EngineOptions())
}

func TestFindScenarios(t *testing.T) {
	dir := filepath.Join("testdata", "scenarios")
	all, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Len(t, all, 5)

	basic, err := FindScenarios(dir, "basic_*")
	require.NoError(t, err)
	assert.Len(t, basic, 3)
	assert.Equal(t, "basic_dummy.yaml", filepath.Base(basic[0]))

	_, err = FindScenarios(filepath.Join(dir, "nope"), "")
	var nf *ScenarioDirNotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = FindScenarios(dir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}
