package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/loopedlocal/agentd/pkg/agent"
)

// Logging returns middleware that emits a structured log entry for each
// loop run: request id, conversation id, model, duration, and whether
// the run succeeded.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next LoopRunner) LoopRunner {
		return LoopRunnerFunc(func(ctx context.Context, conversationID string, userMessage agent.Message, cfg agent.LoopConfig, w LoopEventWriter) error {
			start := time.Now()
			requestID := RequestIDFromContext(ctx)

			err := next.RunLoop(ctx, conversationID, userMessage, cfg, w)

			attrs := []slog.Attr{
				slog.String("request_id", requestID),
				slog.String("conversation_id", conversationID),
				slog.String("model", cfg.Model),
				slog.Duration("duration", time.Since(start)),
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
				logger.LogAttrs(ctx, slog.LevelError, "loop run failed", attrs...)
			} else {
				logger.LogAttrs(ctx, slog.LevelInfo, "loop run completed", attrs...)
			}
			return err
		})
	}
}
