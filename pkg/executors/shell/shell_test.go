//go:build unix

package shell

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlasops/atlas/pkg/tools"
)

func newTestExecutor(t *testing.T) (*Executor, *tools.Registry) {
	t.Helper()
	exec := NewExecutor(t.TempDir(), slog.Default())
	reg := tools.NewRegistry()
	require.NoError(t, exec.Register(reg))
	return exec, reg
}

func runTool(t *testing.T, reg *tools.Registry, params string) commandResult {
	t.Helper()
	tool, ok := reg.Get("execute_shell_command")
	require.True(t, ok)
	require.NoError(t, tool.ValidateParams(json.RawMessage(params)))

	payload, err := tool.Handler(context.Background(), json.RawMessage(params))
	require.NoError(t, err)
	result, ok := payload.(commandResult)
	require.True(t, ok)
	return result
}

func TestExecuteShellCommand(t *testing.T) {
	_, reg := newTestExecutor(t)

	result := runTool(t, reg, `{"command": "echo hello"}`)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello\n", result.Output)
	assert.Equal(t, "sh", result.Shell)
	assert.False(t, result.TimedOut)
}

func TestExecuteShellCommandNonZeroExit(t *testing.T) {
	_, reg := newTestExecutor(t)

	result := runTool(t, reg, `{"command": "echo oops >&2; exit 3"}`)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Output, "stderr is folded into combined output")
}

func TestExecuteShellCommandTimeout(t *testing.T) {
	_, reg := newTestExecutor(t)

	start := time.Now()
	result := runTool(t, reg, `{"command": "sleep 30", "timeout_sec": 1}`)
	assert.True(t, result.TimedOut)
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExecuteShellCommandSchema(t *testing.T) {
	_, reg := newTestExecutor(t)
	tool, ok := reg.Get("execute_shell_command")
	require.True(t, ok)

	assert.Error(t, tool.ValidateParams(json.RawMessage(`{}`)), "command is required")
	assert.Error(t, tool.ValidateParams(json.RawMessage(`{"command": "ls", "shell": "zsh"}`)))
	assert.Error(t, tool.ValidateParams(json.RawMessage(`{"command": "ls", "timeout_sec": 500}`)))
	assert.NoError(t, tool.ValidateParams(json.RawMessage(`{"command": "ls", "shell": "sh", "timeout_sec": 60}`)))
}

func TestExecuteShellCommandIsDangerous(t *testing.T) {
	_, reg := newTestExecutor(t)
	tool, ok := reg.Get("execute_shell_command")
	require.True(t, ok)
	assert.Equal(t, tools.ClassDangerous, tool.Spec.Class)
	assert.Equal(t, DefaultTimeout, tool.Spec.Timeout)
}
