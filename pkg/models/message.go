// Package models contains the shared data types passed between the
// orchestrator, the budget tracker, the caches and the LLM/CloudWatch
// adapters.
package models

import (
	"encoding/json"
	"time"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in the conversation held by an orchestrator
// session. Tool calls and their results are attached to the assistant
// message that produced them and to the tool message that answers them,
// mirroring how most chat-completion APIs represent a turn.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Important   bool         `json:"important,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`

	// Metadata carries bookkeeping that should never be shown to the
	// model: estimated token count, cache references, etc.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EstimatedTokens returns the cached token estimate for the message, or
// -1 if it has never been measured by the budget tracker.
func (m *Message) EstimatedTokens() int {
	if m.Metadata == nil {
		return -1
	}
	if v, ok := m.Metadata["estimated_tokens"].(int); ok {
		return v
	}
	return -1
}

// SetEstimatedTokens caches a token estimate on the message so it is not
// recomputed on every budget pass.
func (m *Message) SetEstimatedTokens(n int) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any, 1)
	}
	m.Metadata["estimated_tokens"] = n
}

// ToolCall is a single tool invocation requested by the assistant.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult is the outcome of executing a ToolCall. Content is the text
// handed back to the LLM; it may be a cache pointer envelope rather than
// the raw tool output once the result cache has taken over.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`

	// FromCache records that Content is a summary envelope produced by
	// the result cache rather than the tool's direct output.
	FromCache bool `json:"from_cache,omitempty"`
	CacheKey  string `json:"cache_key,omitempty"`
}

// ToolCallStage is the lifecycle stage of a ToolCallRecord.
type ToolCallStage string

const (
	ToolCallPending ToolCallStage = "pending"
	ToolCallRunning ToolCallStage = "running"
	ToolCallSuccess ToolCallStage = "success"
	ToolCallError   ToolCallStage = "error"
)

// ToolCallRecord is emitted to registered listeners as a tool call moves
// through its lifecycle, so a terminal UI (out of scope here) can render
// progress without re-deriving it from the message list.
type ToolCallRecord struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolName   string          `json:"tool_name"`
	Stage      ToolCallStage   `json:"stage"`
	Input      json.RawMessage `json:"input,omitempty"`
	Result     *ToolResult     `json:"result,omitempty"`
	Err        string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
}
