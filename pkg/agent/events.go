package agent

// LoopEventType discriminates the LoopEvent union. The value is what
// appears on the wire as the event's "type" field.
type LoopEventType string

const (
	EventThinking     LoopEventType = "thinking"
	EventTextDelta    LoopEventType = "text_delta"
	EventToolCall     LoopEventType = "tool_call"
	EventToolResult   LoopEventType = "tool_result"
	EventText         LoopEventType = "text"
	EventConversation LoopEventType = "conversation"
	EventError        LoopEventType = "error"
	EventDone         LoopEventType = "done"
)

// LoopEvent is one item in the sequence loop.Run emits. Only the fields
// relevant to Type are populated; the rest are left zero. This mirrors
// the wire shape directly: transport/http marshals a LoopEvent verbatim
// as the SSE "data:" payload.
type LoopEvent struct {
	Type LoopEventType `json:"type"`

	// EventThinking / EventTextDelta
	Delta string `json:"delta,omitempty"`

	// EventToolCall
	ToolCall *ToolCall `json:"toolCall,omitempty"`

	// EventToolResult
	ToolCallID string `json:"toolCallId,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"isError,omitempty"`

	// EventText carries the full accumulated visible text of the turn
	// (tag-machine "text" output only, thinking excluded).
	Text string `json:"text,omitempty"`

	// EventConversation carries the persistent conversation id. It is a
	// one-shot event emitted before the first model event.
	ConversationID string `json:"conversationId,omitempty"`

	// EventError
	ErrorType    ErrorType `json:"errorType,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// Thinking builds an EventThinking LoopEvent.
func Thinking(delta string) LoopEvent { return LoopEvent{Type: EventThinking, Delta: delta} }

// TextDelta builds an EventTextDelta LoopEvent.
func TextDelta(delta string) LoopEvent { return LoopEvent{Type: EventTextDelta, Delta: delta} }

// ToolCallEvent builds an EventToolCall LoopEvent.
func ToolCallEvent(tc ToolCall) LoopEvent { return LoopEvent{Type: EventToolCall, ToolCall: &tc} }

// ToolResultEvent builds an EventToolResult LoopEvent.
func ToolResultEvent(callID, result string, isError bool) LoopEvent {
	return LoopEvent{Type: EventToolResult, ToolCallID: callID, Result: result, IsError: isError}
}

// TextEvent builds an EventText LoopEvent.
func TextEvent(text string) LoopEvent { return LoopEvent{Type: EventText, Text: text} }

// ConversationEvent builds the one-shot EventConversation LoopEvent
// identifying the persistent conversation.
func ConversationEvent(id string) LoopEvent {
	return LoopEvent{Type: EventConversation, ConversationID: id}
}

// ErrorEvent builds an EventError LoopEvent from a *LoopError.
func ErrorEvent(err *LoopError) LoopEvent {
	return LoopEvent{Type: EventError, ErrorType: err.Type, ErrorMessage: err.Message}
}

// DoneEvent builds the terminal EventDone LoopEvent.
func DoneEvent() LoopEvent { return LoopEvent{Type: EventDone} }
