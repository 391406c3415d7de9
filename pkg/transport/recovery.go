package transport

import (
	"context"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// Recovery returns middleware that catches panics in the handler and
// converts them to a LoopError. The server continues to accept new
// requests after a panic is recovered.
func Recovery() Middleware {
	return func(next LoopRunner) LoopRunner {
		return LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) (retErr error) {
			defer func() {
				if r := recover(); r != nil {
					retErr = agent.NewBackendError("internal server error: %v", r)
				}
			}()
			return next.RunLoop(ctx, conversationID, userMessage, cfg, w)
		})
	}
}
