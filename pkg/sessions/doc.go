// Package sessions provides utilities shared across conversation store
// implementations, including sentinel errors and tenant context helpers.
//
// Store adapters (memory, postgres) implement the transport.ConversationStore
// interface defined in pkg/transport/handler.go. This package contains
// only shared types and helpers, not the interface itself.
package sessions
