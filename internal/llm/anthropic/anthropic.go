// Package anthropic is a thin Provider implementation over the
// Anthropic SDK. The HTTP/OAuth internals of talking to Anthropic are
// out of scope for this repository; this adapter exists to demonstrate
// that the orchestrator's llm.Provider contract is concretely wireable,
// not to be a complete request builder.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/loglens/loglens/internal/backoff"
	"github.com/loglens/loglens/internal/llm"
)

// Config configures Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	MaxRetries   int
}

// Provider adapts the Anthropic Messages API to llm.Provider.
type Provider struct {
	client       anthropic.Client
	defaultModel string
	maxRetries   int
}

// New constructs a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// Chat implements llm.Provider. Transient errors (rate limit, network,
// timeout) are retried internally up to p.maxRetries with the adapter's
// own exponential backoff, per the failure-semantics propagation
// policy: the orchestrator never retries LLM calls itself.
func (p *Provider) Chat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	params := buildParams(p.model(model), system, messages, tools)

	result, err := backoff.RetryFunc(ctx, p.maxRetries, func(attempt int) (llm.Response, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return llm.Response{}, classifyError(err)
		}
		return toResponse(msg), nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return result, nil
}

// StreamChat implements llm.Provider, streaming only the accumulated
// text of the final response.
func (p *Provider) StreamChat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Fragment, error) {
	params := buildParams(p.model(model), system, messages, tools)
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan llm.Fragment, 16)
	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if textDelta, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
					out <- llm.Fragment{Text: textDelta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- llm.Fragment{Err: classifyError(err)}
			return
		}
		out <- llm.Fragment{Done: true}
	}()
	return out, nil
}

func buildParams(model, system string, messages []llm.Message, tools []llm.ToolDefinition) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}
	return params
}

func convertMessages(messages []llm.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case llm.RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		}
	}
	return out
}

func convertTools(tools []llm.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		out = append(out, anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: schema["properties"],
		}, t.Name))
	}
	return out
}

func toResponse(msg *anthropic.Message) llm.Response {
	resp := llm.Response{
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: json.RawMessage(b.Input),
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = llm.FinishToolCalls
	} else {
		resp.FinishReason = llm.FinishStop
	}
	return resp
}

// classifyError maps SDK errors to llm.Error by inspecting the HTTP
// status Anthropic's client surfaces, matching the typed-kind contract
// other adapters share.
func classifyError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return &llm.Error{Kind: llm.ErrAuthentication, Message: "anthropic: authentication failed", Cause: err}
		case 429:
			return &llm.Error{Kind: llm.ErrRateLimit, Message: "anthropic: rate limited", Cause: err}
		case 400, 422:
			return &llm.Error{Kind: llm.ErrInvalidRequest, Message: "anthropic: invalid request", Cause: err}
		}
		if apiErr.StatusCode >= 500 {
			return &llm.Error{Kind: llm.ErrProviderInternal, Message: "anthropic: provider error", Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.ErrTimeout, Message: "anthropic: request timed out", Cause: err}
	}
	return &llm.Error{Kind: llm.ErrNetwork, Message: "anthropic: request failed", Cause: err}
}
