package loop

import (
	"context"
	"log/slog"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/provider"
	"github.com/loopedlocal/agentd/pkg/tools"
)

// Run drives one agentic turn loop: it submits messages to p, streams
// back agent.LoopEvent values describing the model's output, dispatches
// any tool calls the model requests through registry, and feeds the
// results back for the next round, up to cfg.MaxIterations times.
//
// The first returned channel is closed after the terminal EventDone has
// been sent (an EventError, if any, is sent immediately before it); if
// ctx is canceled it is closed without a terminal event. It carries the
// wire-visible event sequence and never carries conversation state
// (conversation ids are minted and emitted by the transport layer, not
// the core loop).
//
// The second returned channel carries the final, fully-appended
// conversation tail for callers that need to persist it; it is
// buffered (capacity 1) and always holds the latest value, so a
// consumer that never reads it cannot block the loop. It is closed
// after out is closed, so a consumer that first drains out to
// completion finds it already populated, except when cfg.MaxIterations
// is rejected: then it is closed without a value.
//
// Run does not mutate messages; it copies it into a local working
// conversation.
//
// Canceling ctx stops the loop at its next suspension point: a provider
// event await, a tool execution await, or a consumer backpressure await
// on the returned channel.
func Run(ctx context.Context, p provider.Provider, registry tools.ToolRegistry, cfg agent.LoopConfig, messages []agent.Message) (<-chan agent.LoopEvent, <-chan []agent.Message) {
	out := make(chan agent.LoopEvent)
	tail := make(chan []agent.Message, 1)

	publishTail := func(conversation []agent.Message) {
		snapshot := append([]agent.Message(nil), conversation...)
		select {
		case <-tail:
		default:
		}
		tail <- snapshot
	}

	go func() {
		defer close(tail)
		defer close(out)

		if cfg.MaxIterations <= 0 {
			emit(ctx, out, agent.ErrorEvent(agent.NewValidationError("maxIterations must be > 0, got %d", cfg.MaxIterations)))
			emit(ctx, out, agent.DoneEvent())
			return
		}

		conversation := append([]agent.Message(nil), messages...)
		publishTail(conversation)

		var toolDefs []provider.Tool
		if registry != nil {
			for _, td := range registry.List() {
				toolDefs = append(toolDefs, provider.Tool{Name: td.Name, Description: td.Description, Parameters: td.Parameters})
			}
		}

		for iteration := 0; iteration < cfg.MaxIterations; iteration++ {
			assistantMsg, sawToolCalls, loopErr := runTurn(ctx, p, cfg, conversation, toolDefs, out)
			if loopErr != nil {
				if emit(ctx, out, agent.ErrorEvent(loopErr)) {
					emit(ctx, out, agent.DoneEvent())
				}
				return
			}
			if ctx.Err() != nil {
				return
			}

			conversation = append(conversation, assistantMsg)
			publishTail(conversation)

			if len(assistantMsg.ToolCalls) == 0 {
				if sawToolCalls {
					// Provider sent an explicit empty tool_calls batch,
					// distinct from not sending tool_calls at all.
					if emit(ctx, out, agent.ErrorEvent(agent.NewProtocolError("Provider returned empty tool_calls"))) {
						emit(ctx, out, agent.DoneEvent())
					}
					return
				}
				if !emit(ctx, out, agent.TextEvent(assistantMsg.Text())) {
					return
				}
				emit(ctx, out, agent.DoneEvent())
				return
			}

			results, ok := dispatchToolCalls(ctx, registry, assistantMsg.ToolCalls, out)
			if !ok {
				return
			}
			conversation = append(conversation, results...)
			publishTail(conversation)
		}

		if emit(ctx, out, agent.ErrorEvent(agent.NewIterationLimitError(cfg.MaxIterations))) {
			emit(ctx, out, agent.DoneEvent())
		}
	}()

	return out, tail
}

// runTurn submits the current conversation to the provider and streams
// thinking/text_delta/tool_call events as they arrive, returning the
// fully assembled assistant Message for this turn. sawToolCalls reports
// whether the provider emitted an EventKindToolCalls event at all, which
// lets the caller distinguish a plain-text completion (no such event)
// from a protocol violation (the event was sent with zero calls in it).
func runTurn(ctx context.Context, p provider.Provider, cfg agent.LoopConfig, conversation []agent.Message, toolDefs []provider.Tool, out chan<- agent.LoopEvent) (msg agent.Message, sawToolCalls bool, loopErr *agent.LoopError) {
	events, err := p.Stream(ctx, provider.Request{
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		Messages:     conversation,
		Tools:        toolDefs,
	})
	if err != nil {
		return agent.Message{}, false, asLoopError(err)
	}

	var text string
	var toolCalls []agent.ToolCall

	for ev := range events {
		switch ev.Kind {
		case provider.EventKindThinking:
			if !emit(ctx, out, agent.Thinking(ev.Delta)) {
				return agent.Message{}, false, nil
			}
		case provider.EventKindTextDelta:
			text += ev.Delta
			if !emit(ctx, out, agent.TextDelta(ev.Delta)) {
				return agent.Message{}, false, nil
			}
		case provider.EventKindToolCalls:
			sawToolCalls = true
			toolCalls = append(toolCalls, ev.ToolCalls...)
			for _, tc := range ev.ToolCalls {
				if !emit(ctx, out, agent.ToolCallEvent(tc)) {
					return agent.Message{}, false, nil
				}
			}
		case provider.EventKindError:
			return agent.Message{}, false, asLoopError(ev.Err)
		case provider.EventKindDone:
		}
	}

	msg = agent.Message{Role: agent.RoleAssistant, ToolCalls: toolCalls}
	if text != "" || len(toolCalls) == 0 {
		t := text
		msg.Content = &t
	}
	return msg, sawToolCalls, nil
}

// dispatchToolCalls executes each call strictly in order: the spec's
// determinism requirement means call N+1 never starts before call N's
// result has been produced, even though a registry implementation could
// run them concurrently.
func dispatchToolCalls(ctx context.Context, registry tools.ToolRegistry, calls []agent.ToolCall, out chan<- agent.LoopEvent) ([]agent.Message, bool) {
	results := make([]agent.Message, 0, len(calls))
	for _, call := range calls {
		result, isError := executeOne(ctx, registry, call)
		if !emit(ctx, out, agent.ToolResultEvent(call.ID, result, isError)) {
			return nil, false
		}
		results = append(results, agent.Message{
			Role:       agent.RoleTool,
			Content:    &result,
			ToolCallID: call.ID,
		})
	}
	return results, true
}

// executeOne runs a single tool call, translating any executor panic or
// error into an "Error: <message>" result string rather than a loop
// error: tool failures are ordinary conversation content, never a
// LoopEvent{Type: EventError}.
func executeOne(ctx context.Context, registry tools.ToolRegistry, call agent.ToolCall) (result string, isError bool) {
	if registry == nil || !registry.CanExecute(call.Name) {
		return "Error: no tool named " + call.Name + " is available", true
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool panicked", "tool", call.Name, "panic", r)
			result, isError = "Error: tool panicked", true
		}
	}()

	res, err := registry.Execute(ctx, call)
	if err != nil {
		return "Error: " + err.Error(), true
	}
	if res.IsError {
		return "Error: " + res.Output, true
	}
	return res.Output, false
}

func asLoopError(err error) *agent.LoopError {
	if le, ok := err.(*agent.LoopError); ok {
		return le
	}
	return agent.NewTransportError("%v", err)
}

// emit sends ev on out, honoring ctx cancellation and consumer
// backpressure. It reports whether the event was actually delivered.
func emit(ctx context.Context, out chan<- agent.LoopEvent, ev agent.LoopEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
