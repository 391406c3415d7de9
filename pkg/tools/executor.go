package tools

import (
	"context"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// ToolKind classifies how a tool is hosted and executed.
type ToolKind int

const (
	// ToolKindBuiltin is a tool implemented in-process: shell commands,
	// file reads, file writes.
	ToolKindBuiltin ToolKind = iota

	// ToolKindMCP is a tool connected via the Model Context Protocol,
	// executed by calling out to a remote MCP server.
	ToolKindMCP
)

// ToolDefinition describes one callable tool, in the shape the loop
// passes through to provider.Request.Tools.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolExecutor executes tool calls for one tool source. A Registry
// composes one or more ToolExecutors behind a single ToolRegistry.
type ToolExecutor interface {
	// Kind returns the type of tools this executor handles.
	Kind() ToolKind

	// Tools returns the tool definitions this executor provides.
	Tools() []ToolDefinition

	// CanExecute reports whether this executor handles the named tool.
	CanExecute(toolName string) bool

	// Execute runs the tool and returns its result.
	Execute(ctx context.Context, call agent.ToolCall) (*ToolResult, error)
}

// ToolResult is the output of one tool execution.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Output is the tool's output content, fed back as a "tool" role
	// message's content.
	Output string

	// IsError marks Output as a failure description rather than a
	// successful result. The loop does not treat this as a LoopEvent
	// error: it is appended to the conversation and the loop continues.
	IsError bool
}

// ToolRegistry is the capability the loop orchestrator depends on: list
// the tools to advertise to the model, and execute a call the model
// made.
type ToolRegistry interface {
	List() []ToolDefinition
	CanExecute(name string) bool
	Execute(ctx context.Context, call agent.ToolCall) (*ToolResult, error)
}
