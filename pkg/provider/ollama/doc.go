// Package ollama implements provider.Provider against Ollama's
// /api/chat NDJSON streaming endpoint: one JSON object per line, the
// final line carrying "done": true and any tool calls the model
// produced. It drives pkg/ndjson to read the wire and pkg/thinktag to
// split each content delta into "thinking" and visible-text spans.
package ollama
