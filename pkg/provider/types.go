package provider

import "github.com/loopedlocal/agentd/pkg/agent"

// Request is one turn submitted to a Provider: the full conversation so
// far plus the tools the model may call.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []agent.Message
	Tools        []Tool
}

// Tool describes one function the model may call, in the shape every
// backend's wire protocol converges on (name, description, JSON Schema
// parameters).
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// EventKind discriminates the Event union a Provider streams back.
type EventKind int

const (
	EventKindThinking EventKind = iota
	EventKindTextDelta
	EventKindToolCalls
	EventKindDone
	EventKindError
)

// Event is one item of a Provider's streamed response. Only the field
// matching Kind is populated.
type Event struct {
	Kind EventKind

	// EventKindThinking / EventKindTextDelta
	Delta string

	// EventKindToolCalls: the complete, ordered set of tool calls the
	// model requested in this turn. A provider emits this at most once
	// per turn, as the terminal non-Done event.
	ToolCalls []agent.ToolCall

	// EventKindError
	Err error
}
