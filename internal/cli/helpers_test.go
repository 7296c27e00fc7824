package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/meminstrument/internal/config"
	"github.com/roach88/meminstrument/internal/testutil"
)

// rawResponse decodes a CLIResponse but keeps the payload for a second,
// typed decode.
type rawResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
	RunID  string          `json:"run_id"`
}

func decodeResponse(t *testing.T, out *bytes.Buffer, data any) rawResponse {
	t.Helper()
	var resp rawResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), "output: %s", out.String())
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp
}

func modulePath(name string) string {
	return filepath.Join(testutil.TestdataDir(), "modules", name)
}

// clearEnv unsets every override so the host environment cannot leak into
// a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"POLICY", "STRATEGY", "MECHANISM", "DB", "DOT_DIR", "LOG_LEVEL", "TEMPORAL"} {
		t.Setenv(config.EnvPrefix+key, "")
	}
}

// execute runs cmd with args and returns stdout, stderr and the error.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (*bytes.Buffer, *bytes.Buffer, error) {
	t.Helper()
	return executeWithEnv(t, nil, cmd, args...)
}

// executeWithEnv is execute with MEMINSTRUMENT_* overrides set, keyed
// without the prefix.
func executeWithEnv(t *testing.T, env map[string]string, cmd *cobra.Command, args ...string) (*bytes.Buffer, *bytes.Buffer, error) {
	t.Helper()
	clearEnv(t)
	for k, v := range env {
		t.Setenv(config.EnvPrefix+k, v)
	}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out, errOut, err
}
