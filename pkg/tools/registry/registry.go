// Package registry aggregates one or more tools.ToolExecutor sources
// (built-in shell/file tools, MCP server tools) behind a single
// tools.ToolRegistry, the capability the loop orchestrator depends on.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/observability"
	"github.com/loopedlocal/agentd/pkg/tools"
)

func kindLabel(k tools.ToolKind) string {
	switch k {
	case tools.ToolKindBuiltin:
		return "builtin"
	case tools.ToolKindMCP:
		return "mcp"
	default:
		return "unknown"
	}
}

// Registry aggregates tools.ToolExecutor sources and implements
// tools.ToolRegistry. Tool names are resolved first-come, first-served:
// if two executors supply a tool with the same name, the first
// registered executor wins and a warning is logged.
type Registry struct {
	mu sync.RWMutex

	executors      []tools.ToolExecutor
	toolToExecutor map[string]tools.ToolExecutor
}

// Ensure Registry implements tools.ToolRegistry at compile time.
var _ tools.ToolRegistry = (*Registry)(nil)

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		toolToExecutor: make(map[string]tools.ToolExecutor),
	}
}

// Register adds an executor to the registry.
func (r *Registry) Register(e tools.ToolExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executors = append(r.executors, e)

	for _, td := range e.Tools() {
		if _, ok := r.toolToExecutor[td.Name]; ok {
			slog.Warn("tool name conflict, keeping first executor", "tool", td.Name)
			continue
		}
		r.toolToExecutor[td.Name] = e
	}

	slog.Info("registered tool executor", "kind", kindLabel(e.Kind()), "tools", len(e.Tools()))
}

// List returns the merged tool definitions from all registered executors.
func (r *Registry) List() []tools.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []tools.ToolDefinition
	for _, e := range r.executors {
		all = append(all, e.Tools()...)
	}
	return all
}

// CanExecute returns true if any registered executor handles the named tool.
func (r *Registry) CanExecute(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.toolToExecutor[name]
	return ok
}

// Execute routes the tool call to the owning executor, records metrics,
// and recovers from panics so a misbehaving tool cannot crash the loop.
func (r *Registry) Execute(ctx context.Context, call agent.ToolCall) (result *tools.ToolResult, err error) {
	r.mu.RLock()
	e, ok := r.toolToExecutor[call.Name]
	r.mu.RUnlock()

	if !ok {
		return &tools.ToolResult{
			CallID:  call.ID,
			Output:  fmt.Sprintf("no tool executor handles %q", call.Name),
			IsError: true,
		}, nil
	}

	kind := kindLabel(e.Kind())
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool executor panicked", "tool", call.Name, "panic", rec)
			result = &tools.ToolResult{
				CallID:  call.ID,
				Output:  fmt.Sprintf("internal error: tool %q panicked", call.Name),
				IsError: true,
			}
			err = nil
			observability.ToolExecutionsTotal.WithLabelValues(kind, call.Name, "panic").Inc()
			observability.ToolDuration.WithLabelValues(kind, call.Name).Observe(time.Since(start).Seconds())
		}
	}()

	result, err = e.Execute(ctx, call)
	duration := time.Since(start).Seconds()

	status := "success"
	if err != nil {
		status = "error"
	} else if result != nil && result.IsError {
		status = "tool_error"
	}

	observability.ToolExecutionsTotal.WithLabelValues(kind, call.Name, status).Inc()
	observability.ToolDuration.WithLabelValues(kind, call.Name).Observe(duration)

	return result, err
}

// HasExecutors returns true if at least one executor is registered.
func (r *Registry) HasExecutors() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors) > 0
}
