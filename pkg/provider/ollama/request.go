package ollama

import (
	"encoding/json"
	"strings"

	"github.com/loopedlocal/agentd/pkg/agent"
	"github.com/loopedlocal/agentd/pkg/provider"
)

// buildRequest translates a provider.Request into the Ollama wire shape.
//
// Tool-role messages on the wire need a tool_name field Ollama uses for
// display, but agent.Message only carries the tool_call_id the result
// answers. buildMessages resolves the name by scanning backward from
// each tool message to the most recent assistant ToolCall sharing that
// id, per the convention that a tool result always follows its call
// later in the same conversation.
func buildRequest(req provider.Request) chatRequest {
	out := chatRequest{
		Model:    req.Model,
		Stream:   true,
		Messages: buildMessages(req),
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]chatTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = chatTool{
				Type: "function",
				Function: toolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
	}
	return out
}

func buildMessages(req provider.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		messages = append(messages, chatMessage{Role: "system", Content: sys})
	}

	for i, msg := range req.Messages {
		switch msg.Role {
		case agent.RoleAssistant:
			m := chatMessage{Role: "assistant", Content: msg.Text()}
			if len(msg.ToolCalls) > 0 {
				m.ToolCalls = make([]toolCall, len(msg.ToolCalls))
				for j, tc := range msg.ToolCalls {
					args := json.RawMessage(tc.Arguments)
					if len(args) == 0 {
						args = json.RawMessage(`{}`)
					}
					m.ToolCalls[j] = toolCall{
						ID:   tc.ID,
						Type: "function",
						Function: toolCallFunc{
							Name:      tc.Name,
							Arguments: args,
						},
					}
				}
			}
			messages = append(messages, m)
		case agent.RoleTool:
			messages = append(messages, chatMessage{
				Role:     "tool",
				Content:  msg.Text(),
				ToolName: resolveToolName(req.Messages, i, msg.ToolCallID),
			})
		default:
			messages = append(messages, chatMessage{Role: string(msg.Role), Content: msg.Text()})
		}
	}
	return messages
}

// resolveToolName scans messages[:at] backward for the assistant ToolCall
// with the given id.
func resolveToolName(messages []agent.Message, at int, toolCallID string) string {
	for i := at - 1; i >= 0; i-- {
		for _, tc := range messages[i].ToolCalls {
			if tc.ID == toolCallID {
				return tc.Name
			}
		}
	}
	return ""
}
