package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/transport"
)

// mockRunner is a configurable mock LoopRunner for testing.
type mockRunner struct {
	events []agent.LoopEvent
	result []agent.Message
	err    error
}

func (m *mockRunner) RunLoop(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w transport.LoopEventWriter) error {
	if m.err != nil {
		return m.err
	}
	if len(m.events) > 0 {
		for _, event := range m.events {
			if err := w.WriteEvent(ctx, event); err != nil {
				return err
			}
		}
		return nil
	}
	if m.result != nil {
		return w.WriteResult(ctx, m.result)
	}
	return nil
}

// mockConvStore is a configurable mock ConversationStore for testing.
type mockConvStore struct {
	conversations map[string]*transport.Conversation
}

func (m *mockConvStore) CreateConversation(_ context.Context, id string, first agent.Message) error {
	if m.conversations == nil {
		m.conversations = make(map[string]*transport.Conversation)
	}
	m.conversations[id] = &transport.Conversation{ID: id, Messages: []agent.Message{first}}
	return nil
}

func (m *mockConvStore) AppendMessages(_ context.Context, id string, messages []agent.Message) error {
	conv, ok := m.conversations[id]
	if !ok {
		return agent.NewValidationError("conversation not found: " + id)
	}
	conv.Messages = append(conv.Messages, messages...)
	return nil
}

func (m *mockConvStore) GetConversation(_ context.Context, id string) (*transport.Conversation, error) {
	conv, ok := m.conversations[id]
	if !ok {
		return nil, agent.NewValidationError("conversation not found: " + id)
	}
	return conv, nil
}

func (m *mockConvStore) DeleteConversation(_ context.Context, id string) error {
	if _, ok := m.conversations[id]; !ok {
		return agent.NewValidationError("conversation not found: " + id)
	}
	delete(m.conversations, id)
	return nil
}

func (m *mockConvStore) ListConversations(_ context.Context, _ transport.ListOptions) (*transport.ConversationList, error) {
	var list transport.ConversationList
	for _, c := range m.conversations {
		list.Data = append(list.Data, *c)
	}
	return &list, nil
}

func (m *mockConvStore) HealthCheck(_ context.Context) error { return nil }
func (m *mockConvStore) Close() error                        { return nil }

func newTestAdapter(runner transport.LoopRunner, store transport.ConversationStore) *Adapter {
	return NewAdapter(runner, store, DefaultConfig())
}

func postJSON(t *testing.T, srv *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	resp, err := http.Post(srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	return resp
}

// --- Non-streaming tests ---

func TestNonStreamingPostReturnsJSON(t *testing.T) {
	text := "hi there"
	runner := &mockRunner{result: []agent.Message{{Role: agent.RoleAssistant, Content: &text}}}

	adapter := newTestAdapter(runner, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/v1/conversations", createMessageRequest{Content: "hello", Model: "test-model"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var got struct {
		Messages []agent.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got.Messages) != 1 || got.Messages[0].Text() != "hi there" {
		t.Errorf("got messages %+v", got.Messages)
	}
}

func TestInvalidJSONBodyReturns400(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/conversations", "application/json", strings.NewReader("{invalid"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	var errResp transport.ErrorResponse
	json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Type != agent.ErrorTypeValidation {
		t.Errorf("error type = %q, want %q", errResp.Error.Type, agent.ErrorTypeValidation)
	}
}

func TestMissingContentReturns400(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/v1/conversations", createMessageRequest{Model: "test"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestOversizedBodyReturns413(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBodySize = 10 // 10 bytes max
	adapter := NewAdapter(&mockRunner{}, nil, cfg)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	bigBody := strings.NewReader(`{"content":"this request body is far too large for the limit"}`)
	resp, err := http.Post(srv.URL+"/v1/conversations", "application/json", bigBody)
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusRequestEntityTooLarge)
	}
}

func TestWrongContentTypeReturns415(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/conversations", "text/plain", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnsupportedMediaType)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/nonexistent")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        *agent.LoopError
		wantStatus int
	}{
		{"validation -> 400", agent.NewValidationError("model required"), http.StatusBadRequest},
		{"iteration_limit -> 422", agent.NewIterationLimitError(5), http.StatusUnprocessableEntity},
		{"backend -> 502", agent.NewBackendError("overloaded"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{err: tt.err}
			adapter := newTestAdapter(runner, nil)
			srv := httptest.NewServer(adapter.Handler())
			defer srv.Close()

			resp := postJSON(t, srv, "/v1/conversations", createMessageRequest{Content: "hello"})
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var errResp transport.ErrorResponse
			json.NewDecoder(resp.Body).Decode(&errResp)
			if errResp.Error.Type != tt.err.Type {
				t.Errorf("error type = %q, want %q", errResp.Error.Type, tt.err.Type)
			}
		})
	}
}

func TestGetWithoutStoreReturnsError(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil) // no store
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/conversations/conv_abc123456789012345678901")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNotImplemented)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	adapter := newTestAdapter(&mockRunner{}, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	req, _ := http.NewRequest("PUT", srv.URL+"/v1/conversations", strings.NewReader("{}"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusMethodNotAllowed)
	}
}

// --- Streaming tests ---

func TestStreamingPostReturnsSSE(t *testing.T) {
	runner := &mockRunner{
		events: []agent.LoopEvent{
			agent.TextDelta("Hello"),
			agent.TextDelta(" world"),
			agent.TextEvent("Hello world"),
			agent.DoneEvent(),
		},
	}

	adapter := newTestAdapter(runner, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/v1/conversations", createMessageRequest{Content: "hi", Stream: true})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}

	buf := new(bytes.Buffer)
	buf.ReadFrom(resp.Body)
	body := buf.String()

	if strings.Contains(body, "event: ") {
		t.Error("unexpected 'event:' line in SSE stream")
	}
	if !strings.Contains(body, `"type":"text_delta"`) {
		t.Error("missing text_delta event")
	}
	if !strings.Contains(body, `"type":"done"`) {
		t.Error("missing done event")
	}
}

func TestStreamingErrorBeforeEventsReturnsJSON(t *testing.T) {
	runner := &mockRunner{err: agent.NewValidationError("model required")}

	adapter := newTestAdapter(runner, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp := postJSON(t, srv, "/v1/conversations", createMessageRequest{Content: "hi", Stream: true})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json") {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestStreamingExplicitCancellation(t *testing.T) {
	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})

	runner := transport.LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w transport.LoopEventWriter) error {
		w.WriteEvent(ctx, agent.TextDelta("partial"))
		close(handlerStarted)

		select {
		case <-ctx.Done():
			w.WriteEvent(context.Background(), agent.DoneEvent())
		case <-time.After(10 * time.Second):
			t.Error("handler was not cancelled within timeout")
		}
		close(handlerDone)
		return nil
	})

	adapter := newTestAdapter(runner, nil)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	convID := agent.NewConversationID()
	go func() {
		reqBody, _ := json.Marshal(createMessageRequest{Content: "hi", Stream: true})
		req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/conversations/"+convID+"/messages", bytes.NewReader(reqBody))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
	}()

	<-handlerStarted

	req, _ := http.NewRequest("DELETE", srv.URL+"/v1/conversations/"+convID, nil)
	deleteResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer deleteResp.Body.Close()

	if deleteResp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d, want %d", deleteResp.StatusCode, http.StatusNoContent)
	}

	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Error("handler did not complete after cancellation")
	}
}

// --- GET/DELETE tests ---

func TestGetReturnsStoredConversation(t *testing.T) {
	text := "hello"
	store := &mockConvStore{
		conversations: map[string]*transport.Conversation{
			"conv_abc123456789012345678901": {
				ID:       "conv_abc123456789012345678901",
				Messages: []agent.Message{{Role: agent.RoleUser, Content: &text}},
			},
		},
	}

	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/conversations/conv_abc123456789012345678901")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var got transport.Conversation
	json.NewDecoder(resp.Body).Decode(&got)
	if got.ID != "conv_abc123456789012345678901" {
		t.Errorf("conversation ID = %q, want %q", got.ID, "conv_abc123456789012345678901")
	}
}

func TestGetUnknownIDReturnsError(t *testing.T) {
	store := &mockConvStore{conversations: map[string]*transport.Conversation{}}
	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/conversations/conv_unknown123456789012345")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestGetMalformedIDReturns400(t *testing.T) {
	store := &mockConvStore{conversations: map[string]*transport.Conversation{}}
	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/conversations/bad-id")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestDeleteReturns204(t *testing.T) {
	store := &mockConvStore{
		conversations: map[string]*transport.Conversation{
			"conv_abc123456789012345678901": {ID: "conv_abc123456789012345678901"},
		},
	}

	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	req, _ := http.NewRequest("DELETE", srv.URL+"/v1/conversations/conv_abc123456789012345678901", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
}

func TestDeleteUnknownIDReturnsError(t *testing.T) {
	store := &mockConvStore{conversations: map[string]*transport.Conversation{}}
	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	req, _ := http.NewRequest("DELETE", srv.URL+"/v1/conversations/conv_unknown123456789012345", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestDeleteMalformedIDReturns400(t *testing.T) {
	store := &mockConvStore{conversations: map[string]*transport.Conversation{}}
	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	req, _ := http.NewRequest("DELETE", srv.URL+"/v1/conversations/bad-id", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestDeleteChecksInFlightBeforeStore(t *testing.T) {
	store := &mockConvStore{
		conversations: map[string]*transport.Conversation{
			"conv_abc123456789012345678901": {ID: "conv_abc123456789012345678901"},
		},
	}

	adapter := newTestAdapter(&mockRunner{}, store)
	srv := httptest.NewServer(adapter.Handler())
	defer srv.Close()

	cancelled := false
	adapter.inflight.Register("conv_abc123456789012345678901", func() { cancelled = true })

	req, _ := http.NewRequest("DELETE", srv.URL+"/v1/conversations/conv_abc123456789012345678901", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if !cancelled {
		t.Error("expected in-flight cancel to be called")
	}

	if _, ok := store.conversations["conv_abc123456789012345678901"]; ok {
		t.Error("store entry should have been deleted after the in-flight cancel")
	}
}
