package orchestrator

import (
	"encoding/json"

	"github.com/loglens/loglens/internal/llm"
	"github.com/loglens/loglens/pkg/models"
)

// toProviderMessages flattens a session's conversation (one Message per
// role, tool calls/results attached) into the provider-level shape each
// llm.Provider consumes.
func toProviderMessages(messages []*models.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		case models.RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case models.RoleAssistant:
			lm := llm.Message{Role: llm.RoleAssistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				lm.ToolCalls = append(lm.ToolCalls, llm.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Input})
			}
			out = append(out, lm)
		case models.RoleTool:
			for _, tr := range m.ToolResults {
				out = append(out, llm.Message{Role: llm.RoleTool, Content: tr.Content, ToolCallID: tr.ToolCallID})
			}
			if len(m.ToolResults) == 0 {
				out = append(out, llm.Message{Role: llm.RoleTool, Content: m.Content})
			}
		}
	}
	return out
}

func marshalResult(result map[string]any) string {
	b, err := json.Marshal(result)
	if err != nil {
		return `{"success":false,"error":"failed to serialize tool result"}`
	}
	return string(b)
}
