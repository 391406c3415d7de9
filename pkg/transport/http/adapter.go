package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/transport"
)

// createMessageRequest is the body of both POST /v1/conversations and
// POST /v1/conversations/{id}/messages.
type createMessageRequest struct {
	Content       string `json:"content"`
	Model         string `json:"model,omitempty"`
	SystemPrompt  string `json:"systemPrompt,omitempty"`
	MaxIterations int    `json:"maxIterations,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

// Adapter serves the conversation API over HTTP.
type Adapter struct {
	runner   transport.LoopRunner
	store    transport.ConversationStore // nil if stateless-only
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config

	defaultMaxIterations int
	defaultModel         string
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	Addr                 string
	MaxBodySize          int64
	ShutdownTimeout      int // seconds
	DefaultMaxIterations int
	DefaultModel         string
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8080",
		MaxBodySize:          10 << 20, // 10 MB
		ShutdownTimeout:      30,
		DefaultMaxIterations: 10,
	}
}

// NewAdapter creates an HTTP adapter with the given LoopRunner and options.
// The ConversationStore is optional; when nil, GET/DELETE/list endpoints
// return an error indicating the operation is not available.
// Middleware is applied to the runner in the given order.
func NewAdapter(runner transport.LoopRunner, store transport.ConversationStore, cfg Config, middlewares ...transport.Middleware) *Adapter {
	if len(middlewares) > 0 {
		runner = transport.Chain(middlewares...)(runner)
	}

	a := &Adapter{
		runner:               runner,
		store:                store,
		inflight:             transport.NewInFlightRegistry(),
		mux:                  http.NewServeMux(),
		config:               cfg,
		defaultMaxIterations: cfg.DefaultMaxIterations,
		defaultModel:         cfg.DefaultModel,
	}

	a.mux.HandleFunc("POST /v1/conversations", a.handleCreateConversation)
	a.mux.HandleFunc("POST /v1/conversations/{id}/messages", a.handleContinueConversation)
	a.mux.HandleFunc("GET /v1/conversations/{id}", a.handleGetConversation)
	a.mux.HandleFunc("GET /v1/conversations", a.handleListConversations)
	a.mux.HandleFunc("DELETE /v1/conversations/{id}", a.handleDeleteConversation)

	return a
}

// Handler returns the http.Handler for this adapter. Use this to integrate
// with an http.Server or test with httptest.
func (a *Adapter) Handler() http.Handler {
	return httpRequestIDMiddleware(a.mux)
}

// httpRequestIDMiddleware propagates the X-Request-ID header. If present
// in the request, it is forwarded into the context and echoed back on
// the response.
func httpRequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-Request-ID"); id != "" {
			ctx := transport.ContextWithRequestID(r.Context(), id)
			r = r.WithContext(ctx)
		}
		rw := &requestIDResponseWriter{ResponseWriter: w, r: r}
		next.ServeHTTP(rw, r)
	})
}

// requestIDResponseWriter wraps http.ResponseWriter to inject the
// X-Request-ID header before the first write.
type requestIDResponseWriter struct {
	http.ResponseWriter
	r           *http.Request
	headersSent bool
}

func (w *requestIDResponseWriter) WriteHeader(statusCode int) {
	w.ensureRequestIDHeader()
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *requestIDResponseWriter) Write(b []byte) (int, error) {
	w.ensureRequestIDHeader()
	return w.ResponseWriter.Write(b)
}

func (w *requestIDResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.NewResponseController.
func (w *requestIDResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *requestIDResponseWriter) ensureRequestIDHeader() {
	if w.headersSent {
		return
	}
	w.headersSent = true
	if id := transport.RequestIDFromContext(w.r.Context()); id != "" {
		w.ResponseWriter.Header().Set("X-Request-ID", id)
	}
}

// decodeMessageRequest decodes and defaults a createMessageRequest.
func (a *Adapter) decodeMessageRequest(w http.ResponseWriter, r *http.Request) (*createMessageRequest, bool) {
	ct := r.Header.Get("Content-Type")
	if ct != "" && ct != "application/json" {
		transport.WriteErrorResponse(w,
			agent.NewValidationError("Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return nil, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			transport.WriteErrorResponse(w,
				agent.NewValidationError(fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
				http.StatusRequestEntityTooLarge,
			)
			return nil, false
		}
		transport.WriteErrorResponse(w,
			agent.NewValidationError("invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return nil, false
	}

	if req.Content == "" {
		transport.WriteErrorResponse(w, agent.NewValidationError("content is required"), http.StatusBadRequest)
		return nil, false
	}
	if req.Model == "" {
		req.Model = a.defaultModel
	}
	if req.MaxIterations == 0 {
		req.MaxIterations = a.defaultMaxIterations
	}

	return &req, true
}

// handleCreateConversation handles POST /v1/conversations: allocates a
// new conversation id and runs the loop with the first user message.
func (a *Adapter) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeMessageRequest(w, r)
	if !ok {
		return
	}

	id := agent.NewConversationID()
	userMsg := agent.Message{Role: agent.RoleUser, Content: &req.Content}

	if a.store != nil {
		if err := a.store.CreateConversation(r.Context(), id, userMsg); err != nil {
			transport.WriteErrorResponse(w, agent.NewBackendError(err.Error()), http.StatusInternalServerError)
			return
		}
	}

	a.runLoop(w, r, id, userMsg, req)
}

// handleContinueConversation handles POST /v1/conversations/{id}/messages.
func (a *Adapter) handleContinueConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !agent.ValidateConversationID(id) {
		transport.WriteErrorResponse(w, agent.NewValidationError("malformed conversation id"), http.StatusBadRequest)
		return
	}

	req, ok := a.decodeMessageRequest(w, r)
	if !ok {
		return
	}

	userMsg := agent.Message{Role: agent.RoleUser, Content: &req.Content}

	if a.store != nil {
		if err := a.store.AppendMessages(r.Context(), id, []agent.Message{userMsg}); err != nil {
			transport.WriteErrorResponse(w, agent.NewBackendError(err.Error()), http.StatusInternalServerError)
			return
		}
	}

	a.runLoop(w, r, id, userMsg, req)
}

// conversationIDWriter prefixes the first LoopEvent written through it
// with the one-shot conversation{id} event (spec.md §3/§8: emitted
// before the first model event). A runner that errors out before
// writing any event, or that uses WriteResult instead, never triggers
// it, so the SSE writer's idle-state error paths are unaffected.
type conversationIDWriter struct {
	transport.LoopEventWriter
	id   string
	once sync.Once
	err  error
}

func withConversationID(w transport.LoopEventWriter, id string) transport.LoopEventWriter {
	return &conversationIDWriter{LoopEventWriter: w, id: id}
}

func (w *conversationIDWriter) WriteEvent(ctx context.Context, event agent.LoopEvent) error {
	w.once.Do(func() {
		w.err = w.LoopEventWriter.WriteEvent(ctx, agent.ConversationEvent(w.id))
	})
	if w.err != nil {
		return w.err
	}
	return w.LoopEventWriter.WriteEvent(ctx, event)
}

// runLoop dispatches to the streaming or non-streaming path depending
// on req.Stream.
func (a *Adapter) runLoop(w http.ResponseWriter, r *http.Request, id string, userMsg agent.Message, req *createMessageRequest) {
	cfg := agent.LoopConfig{
		MaxIterations: req.MaxIterations,
		Model:         req.Model,
		SystemPrompt:  req.SystemPrompt,
	}

	if !req.Stream {
		sw := newSSEWriter(w, nil)
		if err := a.runner.RunLoop(r.Context(), id, userMsg, cfg, withConversationID(sw, id)); err != nil {
			a.writeHandlerError(w, sw, err)
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw := newSSEWriter(w, func() {
		a.inflight.Register(id, cancel)
	})

	err := a.runner.RunLoop(ctx, id, userMsg, cfg, withConversationID(sw, id))
	a.inflight.Remove(id)

	if err != nil {
		a.writeHandlerError(w, sw, err)
	}
}

// handleGetConversation handles GET /v1/conversations/{id}.
func (a *Adapter) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			agent.NewValidationError("conversation retrieval is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	id := r.PathValue("id")
	if !agent.ValidateConversationID(id) {
		transport.WriteErrorResponse(w, agent.NewValidationError("malformed conversation id"), http.StatusBadRequest)
		return
	}

	conv, err := a.store.GetConversation(r.Context(), id)
	if err != nil {
		a.writeStoreError(w, err, id)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conv)
}

// handleDeleteConversation handles DELETE /v1/conversations/{id}. It
// first cancels any in-flight stream, then deletes persisted state.
func (a *Adapter) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !agent.ValidateConversationID(id) {
		transport.WriteErrorResponse(w, agent.NewValidationError("malformed conversation id"), http.StatusBadRequest)
		return
	}

	cancelled := a.inflight.Cancel(id)

	if a.store == nil {
		if cancelled {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		transport.WriteErrorResponse(w,
			agent.NewValidationError("conversation deletion is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	if err := a.store.DeleteConversation(r.Context(), id); err != nil {
		a.writeStoreError(w, err, id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListConversations handles GET /v1/conversations.
func (a *Adapter) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		transport.WriteErrorResponse(w,
			agent.NewValidationError("conversation listing is not available (no store configured)"),
			http.StatusNotImplemented,
		)
		return
	}

	opts, err := parseListOptions(r)
	if err != nil {
		transport.WriteErrorResponse(w, err, http.StatusBadRequest)
		return
	}

	result, storeErr := a.store.ListConversations(r.Context(), opts)
	if storeErr != nil {
		transport.WriteErrorResponse(w, agent.NewBackendError(storeErr.Error()), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// parseListOptions extracts pagination parameters from query string.
func parseListOptions(r *http.Request) (transport.ListOptions, *agent.LoopError) {
	q := r.URL.Query()
	opts := transport.ListOptions{
		After: q.Get("after"),
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, agent.NewValidationError("limit must be a positive integer")
		}
		opts.Limit = limit
	}

	return opts, nil
}

// writeStoreError maps a ConversationStore error to an HTTP response.
func (a *Adapter) writeStoreError(w http.ResponseWriter, err error, id string) {
	var loopErr *agent.LoopError
	if errors.As(err, &loopErr) {
		transport.WriteLoopError(w, loopErr)
		return
	}
	transport.WriteErrorResponse(w, agent.NewBackendError(err.Error()), http.StatusInternalServerError)
}

// writeHandlerError writes an error response from the handler. If
// streaming has already started, it sends an error event. Otherwise it
// writes a standard JSON error response.
func (a *Adapter) writeHandlerError(w http.ResponseWriter, sw *sseWriter, err error) {
	var loopErr *agent.LoopError
	if !errors.As(err, &loopErr) {
		loopErr = agent.NewBackendError(err.Error())
	}

	if sw.hasStartedStreaming() {
		sw.WriteEvent(context.Background(), agent.ErrorEvent(loopErr))
		return
	}

	transport.WriteLoopError(w, loopErr)
}
