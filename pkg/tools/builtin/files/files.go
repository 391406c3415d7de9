// Package files provides built-in file read/write tools for the agent
// loop's tool registry, scoped to a workspace directory.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/tools"
)

// Tool provides "read_file" and "write_file" tools, both scoped to the
// root directory given to New.
type Tool struct {
	resolver     resolver
	maxReadBytes int
}

// Ensure Tool implements tools.ToolExecutor at compile time.
var _ tools.ToolExecutor = (*Tool)(nil)

// New creates a files tool rooted at root. maxReadBytes caps how much a
// single read_file call returns; 0 uses a 200KB default.
func New(root string, maxReadBytes int) *Tool {
	if maxReadBytes <= 0 {
		maxReadBytes = 200_000
	}
	return &Tool{resolver: resolver{root: root}, maxReadBytes: maxReadBytes}
}

// Kind returns ToolKindBuiltin.
func (t *Tool) Kind() tools.ToolKind { return tools.ToolKindBuiltin }

// Tools returns the "read_file" and "write_file" definitions.
func (t *Tool) Tools() []tools.ToolDefinition {
	return []tools.ToolDefinition{
		{
			Name:        "read_file",
			Description: "Read a file from the workspace with an optional byte offset and limit.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":      map[string]any{"type": "string", "description": "Path relative to the workspace."},
					"offset":    map[string]any{"type": "integer", "description": "Byte offset to start reading from.", "minimum": 0},
					"max_bytes": map[string]any{"type": "integer", "description": "Maximum bytes to read.", "minimum": 0},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "write_file",
			Description: "Write content to a file in the workspace (overwrites by default).",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string", "description": "Path relative to the workspace."},
					"content": map[string]any{"type": "string", "description": "File contents to write."},
					"append":  map[string]any{"type": "boolean", "description": "Append instead of overwrite."},
				},
				"required": []string{"path", "content"},
			},
		},
	}
}

// CanExecute reports whether name is "read_file" or "write_file".
func (t *Tool) CanExecute(name string) bool {
	return name == "read_file" || name == "write_file"
}

// Execute dispatches to readFile or writeFile based on call.Name.
func (t *Tool) Execute(ctx context.Context, call agent.ToolCall) (*tools.ToolResult, error) {
	switch call.Name {
	case "read_file":
		return t.readFile(call)
	case "write_file":
		return t.writeFile(call)
	default:
		return toolError(call.ID, fmt.Sprintf("unsupported tool %q", call.Name)), nil
	}
}

type readArgs struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset"`
	MaxBytes int    `json:"max_bytes"`
}

type readResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Offset    int64  `json:"offset"`
	Bytes     int    `json:"bytes"`
	Truncated bool   `json:"truncated"`
}

func (t *Tool) readFile(call agent.ToolCall) (*tools.ToolResult, error) {
	var args readArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolError(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return toolError(call.ID, "path is required"), nil
	}
	if args.Offset < 0 {
		return toolError(call.ID, "offset must be >= 0"), nil
	}

	resolved, err := t.resolver.resolve(args.Path)
	if err != nil {
		return toolError(call.ID, err.Error()), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("stat file: %v", err)), nil
	}

	if args.Offset > 0 {
		if _, err := file.Seek(args.Offset, io.SeekStart); err != nil {
			return toolError(call.ID, fmt.Sprintf("seek file: %v", err)), nil
		}
	}

	limit := t.maxReadBytes
	if args.MaxBytes > 0 && args.MaxBytes < limit {
		limit = args.MaxBytes
	}

	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - args.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("read file: %v", err)), nil
	}

	truncated := info.Size() > 0 && args.Offset+int64(len(buf)) < info.Size()

	payload, err := json.Marshal(readResult{
		Path:      args.Path,
		Content:   string(buf),
		Offset:    args.Offset,
		Bytes:     len(buf),
		Truncated: truncated,
	})
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("encoding result: %v", err)), nil
	}

	return &tools.ToolResult{CallID: call.ID, Output: string(payload)}, nil
}

type writeArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

type writeResult struct {
	Path         string `json:"path"`
	BytesWritten int    `json:"bytes_written"`
	Append       bool   `json:"append"`
}

func (t *Tool) writeFile(call agent.ToolCall) (*tools.ToolResult, error) {
	var args writeArgs
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return toolError(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if strings.TrimSpace(args.Path) == "" {
		return toolError(call.ID, "path is required"), nil
	}

	resolved, err := t.resolver.resolve(args.Path)
	if err != nil {
		return toolError(call.ID, err.Error()), nil
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(call.ID, fmt.Sprintf("creating directory: %v", err)), nil
	}

	flags := os.O_CREATE | os.O_WRONLY
	if args.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	n, err := file.WriteString(args.Content)
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("write file: %v", err)), nil
	}

	payload, err := json.Marshal(writeResult{Path: args.Path, BytesWritten: n, Append: args.Append})
	if err != nil {
		return toolError(call.ID, fmt.Sprintf("encoding result: %v", err)), nil
	}

	return &tools.ToolResult{CallID: call.ID, Output: string(payload)}, nil
}

func toolError(callID, message string) *tools.ToolResult {
	return &tools.ToolResult{CallID: callID, Output: message, IsError: true}
}
