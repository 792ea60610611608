package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/commonroom"
	"github.com/observablehq/airbyte/internal/config"
	"github.com/observablehq/airbyte/internal/destination"
	"github.com/observablehq/airbyte/internal/testutil"
)

var testCatalog = []commonroom.CustomField{
	{ID: 1, Name: "Plan", Type: "string"},
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, opts *RootOptions, stdin string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand(opts)

	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// withDirectory routes the destination to dir instead of the HTTP API.
func withDirectory(dir commonroom.Directory) *RootOptions {
	return &RootOptions{
		Destination: []destination.Option{
			destination.WithDirectoryFactory(func(*config.Config) (commonroom.Directory, error) {
				return dir, nil
			}),
		},
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func writeConfig(t *testing.T, customFields string) string {
	t.Helper()
	return writeFile(t, "config.json", `{
  "api_token": "tok",
  "custom_fields": `+customFields+`,
  "max_workers": 2,
  "max_attempts": 1
}`)
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "destination-common-room", cmd.Use)
	assert.Equal(t, Version, cmd.Version)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"spec", "check", "write", "history", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	logFormatFlag := cmd.PersistentFlags().Lookup("log-format")
	require.NotNil(t, logFormatFlag)
	assert.Equal(t, "text", logFormatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("log-file"))
}

func TestInvalidFormats(t *testing.T) {
	_, _, err := execute(t, &RootOptions{}, "", "spec", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "yaml"`)

	_, _, err = execute(t, &RootOptions{}, "", "spec", "--log-format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid log format "xml"`)
}

// TestDiagnosticsNeverOnStdout tests that logs go to stderr and the log file.
func TestDiagnosticsNeverOnStdout(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "connector.log")
	opts := withDirectory(testutil.NewFakeDirectory(testCatalog...))

	stdout, stderr, err := execute(t, opts, "",
		"check", "--config", writeConfig(t, `[{"source":"plan","api":"Plan"}]`),
		"--log-format", "json", "--log-file", logFile, "-v")
	require.NoError(t, err)

	assert.NotContains(t, stdout, "connection check finished")
	assert.Contains(t, stderr, `"msg":"connection check finished"`)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"connection check finished"`)
}
