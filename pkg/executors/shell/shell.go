// Package shell executes host commands for the execute_shell_command
// tool: a child process under a chosen interpreter, combined output
// capture, and a hard timeout that kills the whole process group.
package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/atlasops/atlas/pkg/tools"
)

// DefaultTimeout is the per-command budget. Process-spawning operations
// get a longer window than API calls.
const DefaultTimeout = 120 * time.Second

// maxOutputBytes truncates runaway command output before it reaches the
// LLM context.
const maxOutputBytes = 64 * 1024

// Executor spawns host commands. Commands never inherit an interactive
// session; working directory and environment are fixed at construction.
type Executor struct {
	workDir string
	logger  *slog.Logger
}

// NewExecutor creates the shell executor. workDir may be empty to run in
// the process's working directory.
func NewExecutor(workDir string, logger *slog.Logger) *Executor {
	return &Executor{
		workDir: workDir,
		logger:  logger.With("component", "shell_executor"),
	}
}

// Register adds the shell tool to the catalog.
func (e *Executor) Register(reg *tools.Registry) error {
	return reg.Register(tools.ToolSpec{
		Name:        "execute_shell_command",
		Description: "DANGEROUS: Execute a shell command on the host and return combined output and exit code.",
		Class:       tools.ClassDangerous,
		Timeout:     DefaultTimeout,
		Schema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Command line to execute"},
				"shell": {"type": "string", "enum": ["sh", "cmd", "powershell"], "description": "Interpreter to use (default: sh)"},
				"timeout_sec": {"type": "integer", "minimum": 1, "maximum": 120, "description": "Timeout in seconds (default: 120)"}
			},
			"required": ["command"]
		}`),
	}, e.execute)
}

type commandParams struct {
	Command    string `json:"command"`
	Shell      string `json:"shell"`
	TimeoutSec int    `json:"timeout_sec"`
}

type commandResult struct {
	Command    string `json:"command"`
	Shell      string `json:"shell"`
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	Truncated  bool   `json:"truncated,omitempty"`
	TimedOut   bool   `json:"timed_out,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func (e *Executor) execute(ctx context.Context, raw json.RawMessage) (any, error) {
	var params commandParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode shell params: %w", err)
	}
	if params.Shell == "" {
		params.Shell = "sh"
	}

	timeout := DefaultTimeout
	if params.TimeoutSec > 0 {
		timeout = time.Duration(params.TimeoutSec) * time.Second
		if timeout > DefaultTimeout {
			timeout = DefaultTimeout
		}
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	name, args := interpreterArgs(params.Shell, params.Command)
	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = e.workDir
	cmd.Stdin = nil

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Children go into their own process group so timeout expiry kills
	// the whole tree, not just the interpreter.
	configureProcessGroup(cmd)
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	e.logger.Info("Executing shell command", "shell", params.Shell, "timeout", timeout)
	err := cmd.Run()
	duration := time.Since(start)

	timedOut := errors.Is(cmdCtx.Err(), context.DeadlineExceeded)
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		case timedOut:
			exitCode = -1
		default:
			return nil, fmt.Errorf("spawn %s: %w", params.Shell, err)
		}
	}

	out := output.String()
	truncated := false
	if len(out) > maxOutputBytes {
		out = out[:maxOutputBytes]
		truncated = true
	}

	result := commandResult{
		Command:    params.Command,
		Shell:      params.Shell,
		ExitCode:   exitCode,
		Output:     out,
		Truncated:  truncated,
		TimedOut:   timedOut,
		DurationMS: duration.Milliseconds(),
	}
	e.logger.Info("Shell command finished",
		"exit_code", exitCode,
		"timed_out", timedOut,
		"output_bytes", len(out),
		"duration", duration)
	return result, nil
}

func interpreterArgs(shell, command string) (string, []string) {
	switch shell {
	case "cmd":
		return "cmd", []string{"/C", command}
	case "powershell":
		return "powershell", []string{"-NoProfile", "-Command", command}
	default:
		return "sh", []string{"-c", command}
	}
}
