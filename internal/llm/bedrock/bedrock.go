// Package bedrock is a thin Provider implementation over AWS Bedrock's
// Anthropic-compatible InvokeModel API, for teams that route Claude
// traffic through their own AWS account instead of Anthropic directly.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/loglens/loglens/internal/backoff"
	"github.com/loglens/loglens/internal/llm"
)

// Config configures Provider.
type Config struct {
	Region       string
	DefaultModel string
	MaxRetries   int
}

// Provider adapts Bedrock's Anthropic message schema to llm.Provider.
type Provider struct {
	client       *bedrockruntime.Client
	defaultModel string
	maxRetries   int
}

// New constructs a Provider, loading AWS credentials from the default
// chain (environment, shared config, IAM role).
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}

	return &Provider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		defaultModel: cfg.DefaultModel,
		maxRetries:   cfg.MaxRetries,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "bedrock" }

func (p *Provider) model(requested string) string {
	if requested == "" {
		return p.defaultModel
	}
	return requested
}

type bedrockRequest struct {
	AnthropicVersion string              `json:"anthropic_version"`
	MaxTokens        int                 `json:"max_tokens"`
	System           string              `json:"system,omitempty"`
	Messages         []bedrockMessage    `json:"messages"`
	Tools            []bedrockToolSchema `json:"tools,omitempty"`
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type bedrockResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		ID    string          `json:"id,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (llm.Response, error) {
	body, err := json.Marshal(buildRequest(system, messages, tools))
	if err != nil {
		return llm.Response{}, &llm.Error{Kind: llm.ErrInvalidRequest, Message: "bedrock: marshal request", Cause: err}
	}

	result, err := backoff.RetryFunc(ctx, p.maxRetries, func(attempt int) (llm.Response, error) {
		out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(p.model(model)),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return llm.Response{}, classifyError(err)
		}

		var parsed bedrockResponse
		if err := json.Unmarshal(out.Body, &parsed); err != nil {
			return llm.Response{}, &llm.Error{Kind: llm.ErrProviderInternal, Message: "bedrock: decode response", Cause: err}
		}
		return toResponse(parsed), nil
	})
	if err != nil {
		return llm.Response{}, err
	}
	return result, nil
}

// StreamChat implements llm.Provider using InvokeModelWithResponseStream.
func (p *Provider) StreamChat(ctx context.Context, model, system string, messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.Fragment, error) {
	body, err := json.Marshal(buildRequest(system, messages, tools))
	if err != nil {
		return nil, &llm.Error{Kind: llm.ErrInvalidRequest, Message: "bedrock: marshal request", Cause: err}
	}

	resp, err := p.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(p.model(model)),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, classifyError(err)
	}

	out := make(chan llm.Fragment, 16)
	go func() {
		defer close(out)
		stream := resp.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			var delta struct {
				Delta struct {
					Text string `json:"text"`
				} `json:"delta"`
			}
			if err := json.Unmarshal(chunk.Value.Bytes, &delta); err == nil && delta.Delta.Text != "" {
				out <- llm.Fragment{Text: delta.Delta.Text}
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

func buildRequest(system string, messages []llm.Message, tools []llm.ToolDefinition) bedrockRequest {
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System:           system,
	}
	for _, m := range messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, bedrockMessage{Role: role, Content: m.Content})
	}
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		req.Tools = append(req.Tools, bedrockToolSchema{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return req
}

func toResponse(parsed bedrockResponse) llm.Response {
	resp := llm.Response{
		Usage: llm.Usage{InputTokens: parsed.Usage.InputTokens, OutputTokens: parsed.Usage.OutputTokens},
	}
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{ID: block.ID, Name: block.Name, Arguments: block.Input})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = llm.FinishToolCalls
	} else {
		resp.FinishReason = llm.FinishStop
	}
	return resp
}

func classifyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException":
			return &llm.Error{Kind: llm.ErrAuthentication, Message: "bedrock: authentication failed", Cause: err}
		case "ThrottlingException", "ServiceQuotaExceededException":
			return &llm.Error{Kind: llm.ErrRateLimit, Message: "bedrock: rate limited", Cause: err}
		case "ValidationException":
			return &llm.Error{Kind: llm.ErrInvalidRequest, Message: "bedrock: invalid request", Cause: err}
		case "ModelTimeoutException":
			return &llm.Error{Kind: llm.ErrTimeout, Message: "bedrock: request timed out", Cause: err}
		}
		return &llm.Error{Kind: llm.ErrProviderInternal, Message: "bedrock: provider error", Cause: err}
	}
	return &llm.Error{Kind: llm.ErrNetwork, Message: "bedrock: request failed", Cause: err}
}
