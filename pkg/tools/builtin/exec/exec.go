// Package exec provides a built-in shell command execution tool for the
// agent loop's tool registry.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	exec "os/exec"
	"strings"
	"time"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/tools"
)

// Tool runs shell commands within a workspace directory.
type Tool struct {
	// WorkDir is the directory commands run in by default. Empty means
	// the process's current working directory.
	WorkDir string

	// MaxOutputBytes bounds captured stdout/stderr, 0 means unlimited.
	MaxOutputBytes int
}

// Ensure Tool implements tools.ToolExecutor at compile time.
var _ tools.ToolExecutor = (*Tool)(nil)

// New creates a shell exec tool rooted at workDir.
func New(workDir string) *Tool {
	return &Tool{WorkDir: workDir, MaxOutputBytes: 64000}
}

// Kind returns ToolKindBuiltin.
func (t *Tool) Kind() tools.ToolKind { return tools.ToolKindBuiltin }

// Tools returns the single "exec" tool definition.
func (t *Tool) Tools() []tools.ToolDefinition {
	return []tools.ToolDefinition{
		{
			Name:        "exec",
			Description: "Run a shell command and return its stdout, stderr, and exit code.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Shell command to execute.",
					},
					"cwd": map[string]any{
						"type":        "string",
						"description": "Working directory, relative to the workspace.",
					},
					"timeout_seconds": map[string]any{
						"type":        "integer",
						"description": "Timeout in seconds (0 = no timeout).",
						"minimum":     0,
					},
				},
				"required": []string{"command"},
			},
		},
	}
}

// CanExecute reports whether name is "exec".
func (t *Tool) CanExecute(name string) bool {
	return name == "exec"
}

type execArgs struct {
	Command        string `json:"command"`
	Cwd            string `json:"cwd"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type execResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Execute runs the shell command described by call.Arguments.
func (t *Tool) Execute(ctx context.Context, call agent.ToolCall) (*tools.ToolResult, error) {
	var args execArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolError(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
	}

	command := strings.TrimSpace(args.Command)
	if command == "" {
		return toolError(call.ID, "command is required"), nil
	}

	runCtx := ctx
	if args.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(args.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	dir := t.WorkDir
	if args.Cwd != "" {
		if t.WorkDir != "" {
			dir = t.WorkDir + "/" + args.Cwd
		} else {
			dir = args.Cwd
		}
	}

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = limitWriter(&stdout, t.MaxOutputBytes)
	cmd.Stderr = limitWriter(&stderr, t.MaxOutputBytes)

	err := cmd.Run()

	result := execResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(err),
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("encoding result: %v", err)), nil
	}

	return &tools.ToolResult{
		CallID:  call.ID,
		Output:  string(payload),
		IsError: result.ExitCode != 0,
	}, nil
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func toolError(callID, message string) *tools.ToolResult {
	return &tools.ToolResult{CallID: callID, Output: message, IsError: true}
}

// limitedWriter caps the number of bytes written to an underlying buffer.
type limitedWriter struct {
	buf *bytes.Buffer
	max int
}

func limitWriter(buf *bytes.Buffer, max int) *limitedWriter {
	return &limitedWriter{buf: buf, max: max}
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if w.max <= 0 {
		return w.buf.Write(p)
	}
	remaining := w.max - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
