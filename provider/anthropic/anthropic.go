// Package anthropic implements tandem.Provider on the Anthropic Messages API
// using the official SDK.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/nevindra/tandem"
)

const defaultMaxTokens = 4096

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, option.WithBaseURL(url)) }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.clientOpts = append(p.clientOpts, option.WithHTTPClient(c)) }
}

// WithMaxTokens caps the output tokens per call (default 4096).
func WithMaxTokens(n int64) Option {
	return func(p *Provider) { p.maxTokens = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// Provider implements tandem.Provider for Claude models.
type Provider struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	clientOpts []option.RequestOption
	logger     *slog.Logger
}

var _ tandem.Provider = (*Provider)(nil)

// New creates a provider for model. Retries are left to tandem.WithRetry,
// so the SDK's own retry loop is disabled.
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{model: model, maxTokens: defaultMaxTokens}
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
	p.client = anthropic.NewClient(append(base, p.clientOpts...)...)
	return p
}

// Name returns "anthropic".
func (p *Provider) Name() string { return "anthropic" }

// Chat sends one non-streaming Messages request.
func (p *Provider) Chat(ctx context.Context, req tandem.ChatRequest) (tandem.ChatResponse, error) {
	system, messages := buildMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: p.maxTokens,
		Messages:  messages,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return tandem.ChatResponse{}, p.mapErr(err)
	}

	out := tandem.ChatResponse{
		Usage: tandem.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.AsText().Text
		case "tool_use":
			tu := block.AsToolUse()
			args := json.RawMessage("{}")
			if tu.Input != nil {
				if raw, err := json.Marshal(tu.Input); err == nil {
					args = raw
				}
			}
			out.ToolCalls = append(out.ToolCalls, tandem.ToolCall{ID: tu.ID, Name: tu.Name, Args: args})
		}
	}
	p.logger.Debug("anthropic: chat ok", "model", p.model, "stop_reason", string(resp.StopReason),
		"input_tokens", out.Usage.InputTokens, "output_tokens", out.Usage.OutputTokens)
	return out, nil
}

// mapErr converts SDK errors into tandem.ErrHTTP so retry middleware can
// classify them.
func (p *Provider) mapErr(err error) error {
	var apiErr *anthropic.Error
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
	return &tandem.ErrLLM{Provider: "anthropic", Message: err.Error()}
}

// buildMessages splits out system prompts and converts the rest. Consecutive
// tool results are grouped into one user turn, as the API requires.
func buildMessages(msgs []tandem.ChatMessage) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var (
		system  []anthropic.TextBlockParam
		out     []anthropic.MessageParam
		results []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, m := range msgs {
		switch m.Role {
		case "system":
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}
		case "tool":
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case "assistant":
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any = map[string]any{}
				if len(tc.Args) > 0 {
					if err := json.Unmarshal(tc.Args, &input); err != nil {
						input = map[string]any{}
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		default:
			flush()
			var blocks []anthropic.ContentBlockParamUnion
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Base64))
			}
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewUserMessage(blocks...))
			}
		}
	}
	flush()
	return system, out
}

// buildTools converts JSON Schema tool definitions into Anthropic tools.
func buildTools(defs []tandem.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		var params struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(d.Parameters) > 0 {
			if err := json.Unmarshal(d.Parameters, &params); err == nil {
				schema.Properties = params.Properties
				schema.Required = params.Required
			}
		}
		tool := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if d.Description != "" && tool.OfTool != nil {
			tool.OfTool.Description = anthropic.String(d.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func (p *Provider) String() string { return fmt.Sprintf("anthropic(%s)", p.model) }
