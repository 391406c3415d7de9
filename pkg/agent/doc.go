// Package agent defines the shared data model for the conversation loop:
// messages, tool calls, loop configuration, and the event and error
// taxonomies that flow out of a running loop.
//
// Nothing in this package talks to a model backend or a transport; it is
// the vocabulary the other packages (thinktag, ndjson, provider, loop,
// transport/http) share.
package agent
