// Package provider defines the streaming inference backend contract: the
// loop orchestrator submits a conversation and a tool set, and receives
// a lazy sequence of Event values describing the model's turn as it
// arrives.
//
// A concrete backend, such as pkg/provider/ollama, owns its own wire
// protocol end to end: request translation, response parsing, and
// driving the ndjson and thinktag packages. Nothing outside a provider
// package ever sees the backend's wire shapes.
package provider
