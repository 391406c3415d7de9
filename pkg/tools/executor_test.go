package tools

import (
	"context"
	"testing"

	"github.com/loopedlocal/agentd/pkg/agent"
)

type mockExecutor struct {
	kind    ToolKind
	canExec func(string) bool
	execFn  func(context.Context, agent.ToolCall) (*ToolResult, error)
}

func (m *mockExecutor) Kind() ToolKind           { return m.kind }
func (m *mockExecutor) Tools() []ToolDefinition  { return nil }
func (m *mockExecutor) CanExecute(name string) bool {
	return m.canExec(name)
}
func (m *mockExecutor) Execute(ctx context.Context, call agent.ToolCall) (*ToolResult, error) {
	return m.execFn(ctx, call)
}

var _ ToolExecutor = (*mockExecutor)(nil)

func TestToolExecutorMockSatisfiesInterface(t *testing.T) {
	exec := &mockExecutor{
		kind:    ToolKindMCP,
		canExec: func(string) bool { return true },
		execFn: func(_ context.Context, call agent.ToolCall) (*ToolResult, error) {
			return &ToolResult{CallID: call.ID, Output: "result"}, nil
		},
	}

	if exec.Kind() != ToolKindMCP {
		t.Errorf("Kind() = %d, want ToolKindMCP", exec.Kind())
	}
	if !exec.CanExecute("any_tool") {
		t.Error("expected CanExecute to return true")
	}

	result, err := exec.Execute(context.Background(), agent.ToolCall{ID: "c1", Name: "test", Arguments: "{}"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.CallID != "c1" {
		t.Errorf("CallID = %q, want %q", result.CallID, "c1")
	}
	if result.Output != "result" {
		t.Errorf("Output = %q, want %q", result.Output, "result")
	}
}

func TestToolExecutorSelectiveCanExecute(t *testing.T) {
	exec := &mockExecutor{
		kind:    ToolKindBuiltin,
		canExec: func(name string) bool { return name == "read_file" },
		execFn: func(_ context.Context, call agent.ToolCall) (*ToolResult, error) {
			return &ToolResult{CallID: call.ID, Output: "ok"}, nil
		},
	}

	if !exec.CanExecute("read_file") {
		t.Error("expected CanExecute(read_file) = true")
	}
	if exec.CanExecute("get_weather") {
		t.Error("expected CanExecute(get_weather) = false")
	}
}

func TestToolResultErrorFlag(t *testing.T) {
	result := &ToolResult{CallID: "c1", Output: "connection refused", IsError: true}
	if !result.IsError {
		t.Error("expected IsError to be true")
	}
}

func TestToolKindValues(t *testing.T) {
	if ToolKindBuiltin != 0 {
		t.Errorf("ToolKindBuiltin = %d, want 0", ToolKindBuiltin)
	}
	if ToolKindMCP != 1 {
		t.Errorf("ToolKindMCP = %d, want 1", ToolKindMCP)
	}
}
