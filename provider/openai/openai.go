// Package openai implements tandem.Provider on the OpenAI Chat Completions
// API. Any compatible endpoint (OpenRouter, Ollama, vLLM) works via WithBaseURL.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nevindra/tandem"
)

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, option.WithBaseURL(url)) }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, option.WithHTTPClient(c)) }
}

// WithName overrides the name reported to observability (default "openai").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Provider implements tandem.Provider for OpenAI-compatible chat models.
type Provider struct {
	client     openai.Client
	model      string
	name       string
	clientOpts []option.RequestOption
	logger     *slog.Logger
}

var _ tandem.Provider = (*Provider)(nil)

// New creates a provider for model. Retries are left to tandem.WithRetry.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{model: model, name: "openai"}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.New(slog.DiscardHandler)
	}
	base := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		base = append(base, option.WithAPIKey(apiKey))
	}
	p.client = openai.NewClient(append(base, p.clientOpts...)...)
	return p
}

func (p *Provider) Name() string { return p.name }

// Chat sends one non-streaming completion request.
func (p *Provider) Chat(ctx context.Context, req tandem.ChatRequest) (tandem.ChatResponse, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: buildMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return tandem.ChatResponse{}, p.mapErr(err)
	}
	if len(resp.Choices) == 0 {
		return tandem.ChatResponse{}, &tandem.ErrLLM{Provider: p.name, Message: "no choices in response"}
	}

	msg := resp.Choices[0].Message
	out := tandem.ChatResponse{
		Content: msg.Content,
		Usage: tandem.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 || !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, tandem.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
	}
	p.logger.Debug("openai: chat ok", "provider", p.name, "model", p.model,
		"finish_reason", resp.Choices[0].FinishReason, "tool_calls", len(out.ToolCalls))
	return out, nil
}

func (p *Provider) mapErr(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e := &tandem.ErrHTTP{Status: apiErr.StatusCode, Body: apiErr.Error()}
		if apiErr.Response != nil {
			e.RetryAfter = tandem.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return e
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &tandem.ErrLLM{Provider: p.name, Message: err.Error()}
}

func buildMessages(msgs []tandem.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case "assistant":
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				args := string(tc.Args)
				if args == "" {
					args = "{}"
				}
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:       tc.ID,
					Type:     "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{Name: tc.Name, Arguments: args},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(m.Images)+1)
			for _, img := range m.Images {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Base64),
				}))
			}
			if m.Content != "" {
				parts = append(parts, openai.TextContentPart(m.Content))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}

func buildTools(defs []tandem.ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, d := range defs {
		fn := openai.FunctionDefinitionParam{Name: d.Name}
		if d.Description != "" {
			fn.Description = openai.String(d.Description)
		}
		if len(d.Parameters) > 0 {
			var schema map[string]any
			if err := json.Unmarshal(d.Parameters, &schema); err == nil {
				fn.Parameters = openai.FunctionParameters(schema)
			}
		}
		tools = append(tools, openai.ChatCompletionToolParam{Type: "function", Function: fn})
	}
	return tools
}
