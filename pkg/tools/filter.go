package tools

import "github.com/loopedlocal/agentd/pkg/agent"

// FilterResult holds the outcome of filtering tool calls against an
// allow-list.
type FilterResult struct {
	// Allowed contains tool calls that passed the filter.
	Allowed []agent.ToolCall

	// Rejected contains tool calls that were not in the allowed list,
	// paired with error results to feed back to the model.
	Rejected []ToolResult
}

// FilterAllowedTools checks each call against allowedTools. If
// allowedTools is empty or nil, every call is allowed.
func FilterAllowedTools(calls []agent.ToolCall, allowedTools []string) FilterResult {
	if len(allowedTools) == 0 {
		return FilterResult{Allowed: calls}
	}

	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}

	var result FilterResult
	for _, call := range calls {
		if allowed[call.Name] {
			result.Allowed = append(result.Allowed, call)
		} else {
			result.Rejected = append(result.Rejected, ToolResult{
				CallID:  call.ID,
				Output:  "tool " + call.Name + " is not in the allowed_tools list",
				IsError: true,
			})
		}
	}
	return result
}
