// Package transport defines the handler interfaces and middleware chain
// shared by the HTTP/SSE transport layer: the contract between an HTTP
// adapter (pkg/transport/http) and whatever drives the agentic loop,
// independent of net/http.
//
// # Handler Interfaces
//
//   - LoopRunner runs one loop turn and writes its events to a
//     LoopEventWriter.
//   - ConversationStore persists and retrieves conversations, available
//     only when a MessageStore backend (pkg/sessions) is configured.
//
// # Middleware
//
// The middleware chain wraps LoopRunner with cross-cutting concerns:
// panic recovery, request ID assignment (X-Request-ID), and structured
// logging via log/slog.
//
// # Zero Dependencies
//
// This package uses only the Go standard library. HTTP serving (in
// pkg/transport/http) uses net/http with Go 1.22+ ServeMux routing
// patterns and http.NewResponseController for SSE flushing.
package transport
