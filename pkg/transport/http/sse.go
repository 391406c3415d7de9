package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/observability"
	"github.com/loopedlocal/agentd/pkg/transport"
)

// writerState tracks the state of an SSE LoopEventWriter.
type writerState int

const (
	writerIdle      writerState = iota // Initial state, no writes yet
	writerStreaming                    // WriteEvent has been called at least once
	writerCompleted                    // Terminal event sent or WriteResult called
)

// sseWriter implements transport.LoopEventWriter for HTTP/SSE responses.
// It handles both streaming (SSE) and non-streaming (JSON) output.
//
// Each LoopEvent is framed as a single line:
//
//	data: {json}\n\n
//
// unlike a typical SSE feed there is no "event: <type>" line; the event
// type is carried inside the JSON payload itself.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu    sync.Mutex
	state writerState

	// onFirstEvent is called once, when the first event is written,
	// so the caller can register the request for cancellation. Its
	// non-nilness at construction also identifies a true streaming
	// request, which is what trackStreaming gates on.
	onFirstEvent   func()
	trackStreaming bool
}

var _ transport.LoopEventWriter = (*sseWriter)(nil)

// newSSEWriter creates a new LoopEventWriter wrapping an http.ResponseWriter.
// onFirstEvent may be nil.
func newSSEWriter(w http.ResponseWriter, onFirstEvent func()) *sseWriter {
	return &sseWriter{
		w:              w,
		rc:             http.NewResponseController(w),
		onFirstEvent:   onFirstEvent,
		trackStreaming: onFirstEvent != nil,
	}
}

// WriteEvent sends a single LoopEvent as one SSE data frame. The stream
// closes (no further writes are accepted) once a Done or Error event
// has been sent.
func (s *sseWriter) WriteEvent(ctx context.Context, event agent.LoopEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerCompleted {
		return errors.New("cannot write event: writer is completed")
	}

	if s.state == writerIdle {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.state = writerStreaming
		if s.trackStreaming {
			observability.StreamingConnections.Inc()
		}
		if s.onFirstEvent != nil {
			s.onFirstEvent()
			s.onFirstEvent = nil
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	if event.Type == agent.EventDone || event.Type == agent.EventError {
		s.state = writerCompleted
		if s.trackStreaming {
			observability.StreamingConnections.Dec()
		}
	}

	return nil
}

// WriteResult sends a complete non-streaming JSON response. This is
// mutually exclusive with WriteEvent.
func (s *sseWriter) WriteResult(ctx context.Context, messages []agent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == writerStreaming {
		return errors.New("cannot write result: streaming has already started")
	}
	if s.state == writerCompleted {
		return errors.New("cannot write result: writer is completed")
	}

	s.w.Header().Set("Content-Type", "application/json")
	s.state = writerCompleted

	if err := json.NewEncoder(s.w).Encode(struct {
		Messages []agent.Message `json:"messages"`
	}{Messages: messages}); err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}

	return nil
}

// Flush ensures buffered data is sent to the client.
func (s *sseWriter) Flush() error {
	return s.rc.Flush()
}

// hasStartedStreaming returns true if at least one SSE event has been written.
func (s *sseWriter) hasStartedStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == writerStreaming || (s.state == writerCompleted && s.w.Header().Get("Content-Type") == "text/event-stream")
}
