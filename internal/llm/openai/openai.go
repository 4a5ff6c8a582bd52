// Package openai is a thin Provider implementation over an
// OpenAI-compatible chat-completions API using sashabaranov/go-openai.
// As with the anthropic subpackage, the HTTP/OAuth internals of talking
// to a provider are out of scope here.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	gopenai "github.com/sashabaranov/go-openai"

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

// Provider adapts an OpenAI-compatible chat-completions API to
// llm.Provider.
type Provider struct {
	client       *gopenai.Client
	defaultModel string
	maxRetries   int
}

// New constructs a Provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = gopenai.GPT4o
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	clientCfg := gopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Provider{
		client:       gopenai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "openai" }

func (p *Provider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	req := buildRequest(p.model(model), system, messages, tools, false)

	result, err := backoff.RetryFunc(ctx, p.maxRetries, func(attempt int) (llm.Response, error) {
		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return llm.Response{}, classifyError(err)
		}
		return toResponse(resp), nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return result, nil
}

// StreamChat implements llm.Provider, streaming only the final text.
func (p *Provider) StreamChat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Fragment, error) {
	req := buildRequest(p.model(model), system, messages, tools, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, classifyError(err)
	}

	out := make(chan llm.Fragment, 16)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, context.Canceled) {
				return
			}
			if err != nil {
				if err.Error() == "EOF" {
					out <- llm.Fragment{Done: true}
					return
				}
				out <- llm.Fragment{Err: classifyError(err)}
				return
			}
			if len(chunk.Choices) > 0 {
				out <- llm.Fragment{Text: chunk.Choices[0].Delta.Content}
			}
		}
	}()
	return out, nil
}

func buildRequest(model, system string, messages []llm.Message, tools []llm.ToolDefinition, stream bool) gopenai.ChatCompletionRequest {
	var chatMessages []gopenai.ChatCompletionMessage
	if system != "" {
		chatMessages = append(chatMessages, gopenai.ChatCompletionMessage{Role: gopenai.ChatMessageRoleSystem, Content: system})
	}
	for _, m := range messages {
		chatMessages = append(chatMessages, convertMessage(m))
	}

	req := gopenai.ChatCompletionRequest{
		Model:    model,
		Messages: chatMessages,
		Stream:   stream,
	}
	if len(tools) > 0 {
		req.Tools = convertTools(tools)
	}
	return req
}

func convertMessage(m llm.Message) gopenai.ChatCompletionMessage {
	switch m.Role {
	case llm.RoleTool:
		return gopenai.ChatCompletionMessage{Role: gopenai.ChatMessageRoleTool, Content: m.Content, ToolCallID: m.ToolCallID}
	case llm.RoleAssistant:
		msg := gopenai.ChatCompletionMessage{Role: gopenai.ChatMessageRoleAssistant, Content: m.Content}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, gopenai.ToolCall{
				ID:   tc.ID,
				Type: gopenai.ToolTypeFunction,
				Function: gopenai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		return msg
	default:
		return gopenai.ChatCompletionMessage{Role: gopenai.ChatMessageRoleUser, Content: m.Content}
	}
}

func convertTools(tools []llm.ToolDefinition) []gopenai.Tool {
	out := make([]gopenai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		_ = json.Unmarshal(t.Parameters, &params)
		out = append(out, gopenai.Tool{
			Type: gopenai.ToolTypeFunction,
			Function: &gopenai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func toResponse(resp gopenai.ChatCompletionResponse) llm.Response {
	out := llm.Response{
		Usage: llm.Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens},
	}
	if len(resp.Choices) == 0 {
		return out
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	} else {
		out.FinishReason = llm.FinishStop
	}
	return out
}

func classifyError(err error) error {
	var apiErr *gopenai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return &llm.Error{Kind: llm.ErrAuthentication, Message: "openai: authentication failed", Cause: err}
		case http.StatusTooManyRequests:
			return &llm.Error{Kind: llm.ErrRateLimit, Message: "openai: rate limited", Cause: err}
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &llm.Error{Kind: llm.ErrInvalidRequest, Message: "openai: invalid request", Cause: err}
		}
		if apiErr.HTTPStatusCode >= 500 {
			return &llm.Error{Kind: llm.ErrProviderInternal, Message: "openai: provider error", Cause: err}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Kind: llm.ErrTimeout, Message: "openai: request timed out", Cause: err}
	}
	return &llm.Error{Kind: llm.ErrNetwork, Message: "openai: request failed", Cause: err}
}
