package transport

import (
	"encoding/json"
	"net/http"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// ErrorResponse wraps a LoopError for JSON serialization as a top-level
// HTTP error body.
type ErrorResponse struct {
	Error struct {
		Type    agent.ErrorType `json:"type"`
		Message string          `json:"message"`
	} `json:"error"`
}

// HTTPStatusFromError maps a LoopError type to the corresponding HTTP
// status code.
func HTTPStatusFromError(err *agent.LoopError) int {
	switch err.Type {
	case agent.ErrorTypeValidation:
		return http.StatusBadRequest
	case agent.ErrorTypeIterationLimit:
		return http.StatusUnprocessableEntity
	case agent.ErrorTypeTransport, agent.ErrorTypeBackend, agent.ErrorTypeProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WriteErrorResponse writes a JSON error response and sets the HTTP
// status code.
func WriteErrorResponse(w http.ResponseWriter, err *agent.LoopError, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	var resp ErrorResponse
	resp.Error.Type = err.Type
	resp.Error.Message = err.Message
	json.NewEncoder(w).Encode(resp)
}

// WriteLoopError writes a LoopError response, deriving the HTTP status
// code from its type.
func WriteLoopError(w http.ResponseWriter, err *agent.LoopError) {
	WriteErrorResponse(w, err, HTTPStatusFromError(err))
}
