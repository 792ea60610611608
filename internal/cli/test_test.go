package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenariosDir = "../harness/testdata/scenarios"

const failingScenario = `name: wrong_count
description: "Asserts a checkpoint that is never emitted"
input:
  - { type: RECORD, record: { stream: users, emitted_at: 1, data: { email: a@example.com } } }
assertions:
  - type: output_count
    message_type: STATE
    count: 1
`

const passingScenario = `name: one_state
description: "A lone checkpoint is forwarded"
input:
  - { type: STATE, state: { cursor: 1 } }
assertions:
  - type: output_count
    message_type: STATE
    count: 1
`

func TestTestCommand_Scenarios(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "", "test", scenariosDir)
	require.NoError(t, err, stdout)
	assert.Contains(t, stdout, "✓ member_sync")
	assert.Contains(t, stdout, "0 failed")
}

func TestTestCommand_Filter(t *testing.T) {
	stdout, _, err := execute(t, &RootOptions{}, "", "test", scenariosDir, "--filter", "retry_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp))
	require.Equal(t, 1, resp.Data.Total)
	assert.Equal(t, "retry_exhaustion", resp.Data.Scenarios[0].Name)
}

func TestTestCommand_DirectoryNotFound(t *testing.T) {
	_, _, err := execute(t, &RootOptions{}, "", "test", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong_count.yaml"), []byte(failingScenario), 0644))

	stdout, _, err := execute(t, &RootOptions{}, "", "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "✗ wrong_count")

	stdout, _, err = execute(t, &RootOptions{}, "", "test", dir, "--format", "json")
	require.Error(t, err)
	assert.Contains(t, stdout, "E_TEST_FAILED")
}

func TestTestCommand_UpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one_state.yaml"), []byte(passingScenario), 0644))

	_, _, err := execute(t, &RootOptions{}, "", "test", dir, "--update")
	require.NoError(t, err)

	golden := filepath.Join(dir, "golden", "one_state.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario: one_state")

	// A stale golden file fails the comparison.
	require.NoError(t, os.WriteFile(golden, []byte("stale\n"), 0644))
	stdout, _, err := execute(t, &RootOptions{}, "", "test", dir)
	require.Error(t, err)
	assert.Contains(t, stdout, "snapshot does not match golden file")
}
