package transport

import (
	"context"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// LoopRunner handles the core "continue this conversation" operation: it
// receives the conversation id and the new user message, runs the loop,
// and writes the resulting agent.LoopEvent sequence to w.
type LoopRunner interface {
	RunLoop(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error
}

// LoopRunnerFunc adapts an ordinary function to a LoopRunner.
type LoopRunnerFunc func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error

func (f LoopRunnerFunc) RunLoop(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
	return f(ctx, conversationID, userMessage, cfg, w)
}

// ListOptions controls pagination for conversation listing.
type ListOptions struct {
	After string
	Limit int
}

// ConversationList holds a paginated list of conversations.
type ConversationList struct {
	Data    []Conversation `json:"data"`
	HasMore bool           `json:"hasMore"`
}

// Conversation is the persisted record of one conversation.
type Conversation struct {
	ID       string          `json:"id"`
	Messages []agent.Message `json:"messages"`
}

// ConversationStore handles persistence, retrieval, and deletion of
// conversations. It is only available when a MessageStore backend
// (pkg/sessions) is configured.
type ConversationStore interface {
	CreateConversation(ctx context.Context, id string, first agent.Message) error
	AppendMessages(ctx context.Context, id string, messages []agent.Message) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	ListConversations(ctx context.Context, opts ListOptions) (*ConversationList, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// LoopEventWriter abstracts streaming and non-streaming output for a
// LoopRunner. WriteEvent and WriteResult are mutually exclusive on a
// single writer instance.
type LoopEventWriter interface {
	// WriteEvent sends a single LoopEvent downstream (as one SSE frame
	// over HTTP). Returns an error once a terminal event has already
	// been sent.
	WriteEvent(ctx context.Context, event agent.LoopEvent) error

	// WriteResult sends the final, non-streaming result: the full
	// message list after the loop finished.
	WriteResult(ctx context.Context, messages []agent.Message) error

	// Flush ensures buffered data is sent to the client.
	Flush() error
}
