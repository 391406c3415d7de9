package transport

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// recordingWriter is a minimal LoopEventWriter for testing middleware.
type recordingWriter struct {
	events  []agent.LoopEvent
	result  []agent.Message
	flushed bool
}

func (w *recordingWriter) WriteEvent(_ context.Context, event agent.LoopEvent) error {
	w.events = append(w.events, event)
	return nil
}

func (w *recordingWriter) WriteResult(_ context.Context, messages []agent.Message) error {
	w.result = messages
	return nil
}

func (w *recordingWriter) Flush() error {
	w.flushed = true
	return nil
}

func TestChainAppliesMiddlewareInOrder(t *testing.T) {
	var order []string

	mw := func(name string) Middleware {
		return func(next LoopRunner) LoopRunner {
			return LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
				order = append(order, name+":before")
				err := next.RunLoop(ctx, conversationID, userMessage, cfg, w)
				order = append(order, name+":after")
				return err
			})
		}
	}

	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		order = append(order, "handler")
		return nil
	})

	chain := Chain(mw("first"), mw("second"), mw("third"))
	wrapped := chain(handler)

	wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})

	expected := []string{
		"first:before", "second:before", "third:before",
		"handler",
		"third:after", "second:after", "first:after",
	}

	if len(order) != len(expected) {
		t.Fatalf("execution order length = %d, want %d: %v", len(order), len(expected), order)
	}
	for i, got := range order {
		if got != expected[i] {
			t.Errorf("order[%d] = %q, want %q", i, got, expected[i])
		}
	}
}

func TestRecoveryCatchesPanic(t *testing.T) {
	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		panic("test panic")
	})

	wrapped := Recovery()(handler)
	err := wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})

	if err == nil {
		t.Fatal("expected error after panic, got nil")
	}

	loopErr, ok := err.(*agent.LoopError)
	if !ok {
		t.Fatalf("expected *agent.LoopError, got %T: %v", err, err)
	}
	if loopErr.Type != agent.ErrorTypeBackend {
		t.Errorf("error type = %q, want %q", loopErr.Type, agent.ErrorTypeBackend)
	}
	if !strings.Contains(loopErr.Message, "test panic") {
		t.Errorf("error message = %q, should contain %q", loopErr.Message, "test panic")
	}
}

func TestRecoveryPassesThroughNormalExecution(t *testing.T) {
	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		return nil
	})

	wrapped := Recovery()(handler)
	err := wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestIDGeneratesNewID(t *testing.T) {
	var capturedID string

	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		capturedID = RequestIDFromContext(ctx)
		return nil
	})

	wrapped := RequestID()(handler)
	wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})

	if capturedID == "" {
		t.Error("expected a generated request ID, got empty string")
	}
	if len(capturedID) != 32 { // 16 bytes = 32 hex chars
		t.Errorf("request ID length = %d, want 32 (hex encoded)", len(capturedID))
	}
}

func TestRequestIDPropagatesExisting(t *testing.T) {
	var capturedID string

	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		capturedID = RequestIDFromContext(ctx)
		return nil
	})

	ctx := ContextWithRequestID(context.Background(), "existing-id-123")
	wrapped := RequestID()(handler)
	wrapped.RunLoop(ctx, "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})

	if capturedID != "existing-id-123" {
		t.Errorf("request ID = %q, want %q", capturedID, "existing-id-123")
	}
}

func TestRequestIDUniqueness(t *testing.T) {
	ids := make(map[string]bool)
	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		ids[RequestIDFromContext(ctx)] = true
		return nil
	})

	wrapped := RequestID()(handler)
	for i := 0; i < 100; i++ {
		wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{}, &recordingWriter{})
	}

	if len(ids) != 100 {
		t.Errorf("expected 100 unique IDs, got %d", len(ids))
	}
}

func TestLoggingEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		return nil
	})

	ctx := ContextWithRequestID(context.Background(), "req-log-test")
	wrapped := Logging(logger)(handler)
	wrapped.RunLoop(ctx, "conv_log_test", agent.Message{}, agent.LoopConfig{Model: "test-model"}, &recordingWriter{})

	output := buf.String()
	for _, expected := range []string{"request_id=req-log-test", "conversation_id=conv_log_test", "model=test-model", "loop run completed"} {
		if !strings.Contains(output, expected) {
			t.Errorf("log output missing %q in:\n%s", expected, output)
		}
	}
}

func TestLoggingEmitsErrorOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
		return agent.NewBackendError("test failure")
	})

	wrapped := Logging(logger)(handler)
	wrapped.RunLoop(context.Background(), "conv_1", agent.Message{}, agent.LoopConfig{Model: "test"}, &recordingWriter{})

	output := buf.String()
	if !strings.Contains(output, "loop run failed") {
		t.Errorf("log output missing 'loop run failed' in:\n%s", output)
	}
	if !strings.Contains(output, "test failure") {
		t.Errorf("log output missing error message in:\n%s", output)
	}
}
