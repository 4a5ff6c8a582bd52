// Package budget tracks the per-session token allocation across the
// system prompt, conversation history and tool results, and decides
// when and what to prune from the conversation.
package budget

import (
	"encoding/json"
	"strings"
)

// charsPerToken is the fallback estimate used when no model-specific
// tokenizer is wired in: roughly 3.5 characters per token for English
// prose mixed with JSON payloads.
const charsPerToken = 3.5

// Counter maps text to a token count. The zero value uses the
// character-ratio estimate; callers that have a real tokenizer for a
// given model can supply one via WithCounter.
type Counter func(text string) int

// EstimateTokens is the default character-ratio counter.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := float64(len(text)) / charsPerToken
	if n < 1 {
		return 1
	}
	return int(n + 0.5)
}

// EstimateJSONTokens serializes v compactly and counts the result.
// It is used to size prospective tool results before they are appended
// to the conversation.
func EstimateJSONTokens(v any) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return EstimateTokens(string(b)), nil
}

// ModelContextWindow returns the context window size for a known model,
// falling back to a conservative default for unrecognized ones.
func ModelContextWindow(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "claude-3-5") || strings.Contains(m, "claude-sonnet-4") || strings.Contains(m, "claude-opus-4"):
		return 200_000
	case strings.Contains(m, "claude"):
		return 180_000
	case strings.Contains(m, "gpt-4o") || strings.Contains(m, "gpt-4.1"):
		return 128_000
	case strings.Contains(m, "gpt-4"):
		return 128_000
	case strings.Contains(m, "gemini"):
		return 1_000_000
	default:
		return 100_000
	}
}
