package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cigraph/internal/ir"
)

// isolate runs the test in an empty working directory with no user config
// and no runner environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	for _, e := range runnerEnv {
		t.Setenv(e.name, "")
	}
	t.Chdir(dir)
	return dir
}

// testdataPath resolves a path under the repository before isolate
// changes directory.
func testdataPath(t *testing.T, rel string) string {
	t.Helper()
	abs, err := filepath.Abs(rel)
	require.NoError(t, err)
	return abs
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"render", "validate", "graph", "history", "test"}, names)

	for _, flag := range []string{"verbose", "format", "config"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(flag), flag)
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, "history", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_ConfigFile(t *testing.T) {
	dir := isolate(t)
	ledger := filepath.Join(dir, "custom", "ledger.db")
	cfgPath := filepath.Join(dir, "cigraph.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("ledger:\n  path: "+ledger+"\n"), 0o644))

	stdout, _, err := execute(t, "history", "--config", cfgPath, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, ledger)
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cigraph.yaml"), []byte("publish:\n  strategy: carrier-pigeon\n"), 0o644))

	stdout, _, err := execute(t, "history")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, stdout, "publish.strategy")
}

func TestRootCommand_MissingExplicitConfig(t *testing.T) {
	dir := isolate(t)

	_, _, err := execute(t, "history", "--config", filepath.Join(dir, "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootCommand_VerboseLogsToStderr(t *testing.T) {
	isolate(t)

	stdout, stderr, err := execute(t, "graph", "-v", "--version", "3007.1", "--trigger", "push")
	require.NoError(t, err)
	assert.Contains(t, stderr, "configuration loaded")
	assert.Contains(t, stderr, "expanding template")
	assert.NotContains(t, stdout, "level=DEBUG")
}

func TestRootCommand_EnvironmentOverride(t *testing.T) {
	isolate(t)
	t.Setenv("CIGRAPH_DEFAULT_ENVIRONMENT", "staging")

	stdout, _, err := execute(t, "graph", "--version", "3007.1", "--trigger", "push")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Pipeline release (staging, 3007.1, push)")
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}

func TestRootCommand_Version(t *testing.T) {
	isolate(t)

	stdout, _, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "cigraph version "+ir.ToolVersion)
}
