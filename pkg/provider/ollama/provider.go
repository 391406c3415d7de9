package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/ndjson"
	"github.com/loopedlocal/agentd/pkg/observability"
	"github.com/loopedlocal/agentd/pkg/provider"
	"github.com/loopedlocal/agentd/pkg/thinktag"
)

const providerName = "ollama"

// Config configures a Provider.
type Config struct {
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
}

// Provider implements provider.Provider against an Ollama-compatible
// /api/chat NDJSON endpoint.
type Provider struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ provider.Provider = (*Provider)(nil)

// New constructs a Provider. An empty BaseURL defaults to Ollama's
// conventional local address; an empty Timeout defaults to two minutes.
func New(cfg Config) *Provider {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Provider{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

func (p *Provider) Name() string { return "ollama" }

// Stream submits req to Ollama's /api/chat endpoint and returns a
// channel of provider.Event. The HTTP request and headers are sent
// before Stream returns; the response body is then read from a
// background goroutine so the loop can consume events as they arrive.
func (p *Provider) Stream(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	if model == "" {
		return nil, agent.NewValidationError("model is required")
	}

	payload := buildRequest(req)
	payload.Model = model

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, agent.NewValidationError("marshal ollama request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, agent.NewTransportError("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(providerName, model, "transport_error").Inc()
		return nil, agent.NewTransportError("ollama request failed: %v", err)
	}
	observability.ProviderLatency.WithLabelValues(providerName, model).Observe(time.Since(start).Seconds())
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		observability.ProviderRequestsTotal.WithLabelValues(providerName, model, "backend_error").Inc()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, agent.NewBackendError("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	observability.ProviderRequestsTotal.WithLabelValues(providerName, model, "success").Inc()

	out := make(chan provider.Event)
	go p.streamResponse(ctx, resp.Body, model, start, out)
	return out, nil
}

func (p *Provider) streamResponse(ctx context.Context, body io.ReadCloser, model string, start time.Time, out chan<- provider.Event) {
	defer close(out)
	defer body.Close()

	dec := ndjson.NewDecoder(body)
	tags := thinktag.New()
	var firstTokenAt time.Time

	for {
		raw, err := dec.Next(ctx)
		if err != nil {
			if err == io.EOF {
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				out <- provider.Event{Kind: provider.EventKindError, Err: agent.NewTransportError("stream canceled: %v", ctxErr)}
				return
			}
			var frameErr *ndjson.FrameError
			if errors.As(err, &frameErr) {
				out <- provider.Event{Kind: provider.EventKindError, Err: agent.NewBackendError("%v", err)}
			} else {
				out <- provider.Event{Kind: provider.EventKindError, Err: agent.NewTransportError("%v", err)}
			}
			return
		}

		var resp chatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			out <- provider.Event{Kind: provider.EventKindError, Err: agent.NewBackendError("decode ollama frame: %v", err)}
			return
		}
		if resp.Error != "" {
			out <- provider.Event{Kind: provider.EventKindError, Err: agent.NewBackendError("%s", resp.Error)}
			return
		}

		if resp.Message != nil {
			if resp.Message.Content != "" {
				for _, ev := range tags.Feed(resp.Message.Content) {
					if firstTokenAt.IsZero() {
						firstTokenAt = time.Now()
					}
					out <- tagEventToProviderEvent(ev)
				}
			}
			// nil means the field was absent: no tool calls this frame.
			// A non-nil, zero-length slice means Ollama sent an explicit
			// empty tool_calls batch, which the loop treats as a
			// protocol violation rather than plain-text completion.
			if resp.Message.ToolCalls != nil {
				if firstTokenAt.IsZero() {
					firstTokenAt = time.Now()
				}
				calls := convertToolCalls(resp.Message.ToolCalls)
				out <- provider.Event{Kind: provider.EventKindToolCalls, ToolCalls: calls}
			}
		}

		if resp.Done {
			for _, ev := range tags.Flush() {
				out <- tagEventToProviderEvent(ev)
			}
			if resp.PromptEvalCount > 0 {
				observability.ProviderTokensTotal.WithLabelValues(providerName, model, "input").Add(float64(resp.PromptEvalCount))
			}
			if resp.EvalCount > 0 {
				observability.ProviderTokensTotal.WithLabelValues(providerName, model, "output").Add(float64(resp.EvalCount))
			}
			var ttft *time.Duration
			if !firstTokenAt.IsZero() {
				d := firstTokenAt.Sub(start)
				ttft = &d
			}
			observability.RecordGenAIMetrics(providerName, model, time.Since(start), resp.PromptEvalCount, resp.EvalCount, ttft)
			out <- provider.Event{Kind: provider.EventKindDone}
			return
		}
	}
}

func tagEventToProviderEvent(ev thinktag.Event) provider.Event {
	if ev.Kind == thinktag.KindThinking {
		return provider.Event{Kind: provider.EventKindThinking, Delta: ev.Text}
	}
	return provider.Event{Kind: provider.EventKindTextDelta, Delta: ev.Text}
}

func convertToolCalls(calls []toolCall) []agent.ToolCall {
	out := make([]agent.ToolCall, 0, len(calls))
	seen := make(map[string]struct{}, len(calls))
	for _, tc := range calls {
		id := strings.TrimSpace(tc.ID)
		if id == "" {
			id = uuid.NewString()
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		args := string(tc.Function.Arguments)
		var encoded string
		if json.Unmarshal(tc.Function.Arguments, &encoded) == nil {
			// Arguments sent as a JSON-encoded string rather than an object.
			args = encoded
		}
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}
		out = append(out, agent.ToolCall{
			ID:        id,
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
		})
	}
	return out
}
