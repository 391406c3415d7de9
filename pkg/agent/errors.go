package agent

import "fmt"

// ErrorType categorizes a loop-terminating error. These map 1:1 onto the
// LoopEvent{Type: EventError} payload's "errorType" field.
type ErrorType string

const (
	// ErrorTypeValidation marks a rejected LoopConfig or input, e.g.
	// MaxIterations <= 0.
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeBackend marks a non-2xx or malformed response from the
	// model backend.
	ErrorTypeBackend ErrorType = "backend_error"
	// ErrorTypeTransport marks a network-level failure reaching the
	// backend (dial, read, context cancellation surfaced as transport).
	ErrorTypeTransport ErrorType = "transport_error"
	// ErrorTypeProtocol marks a provider turn that broke the loop's turn
	// protocol: an explicit tool_calls batch with no calls in it.
	ErrorTypeProtocol ErrorType = "protocol_error"
	// ErrorTypeIterationLimit marks exhaustion of LoopConfig.MaxIterations
	// without the model producing a final, tool-call-free turn.
	ErrorTypeIterationLimit ErrorType = "iteration_limit_error"
)

// LoopError is the error type carried by a LoopEvent{Type: EventError}.
// It is never used for tool execution failures: those are fed back into
// the conversation as a "tool" message and never reach this type.
type LoopError struct {
	Type    ErrorType
	Message string
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func NewValidationError(format string, args ...any) *LoopError {
	return &LoopError{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewBackendError(format string, args ...any) *LoopError {
	return &LoopError{Type: ErrorTypeBackend, Message: fmt.Sprintf(format, args...)}
}

func NewTransportError(format string, args ...any) *LoopError {
	return &LoopError{Type: ErrorTypeTransport, Message: fmt.Sprintf(format, args...)}
}

func NewProtocolError(format string, args ...any) *LoopError {
	return &LoopError{Type: ErrorTypeProtocol, Message: fmt.Sprintf(format, args...)}
}

func NewIterationLimitError(maxIterations int) *LoopError {
	return &LoopError{
		Type:    ErrorTypeIterationLimit,
		Message: fmt.Sprintf("exhausted %d iteration(s) without a final response", maxIterations),
	}
}
