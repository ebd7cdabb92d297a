package tandem

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// defaultMaxTurns bounds a prompt when PromptRequest.MaxTurns is unset.
const defaultMaxTurns = 5

// Engine runs the bounded tool-calling loop shared by channels, branches,
// and workers.
type Engine struct {
	provider Provider
	logger   *slog.Logger
	tracer   Tracer
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// EngineLogger sets the structured logger.
func EngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// EngineTracer enables spans for prompts and turns.
func EngineTracer(t Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine backed by p.
func NewEngine(p Provider, opts ...EngineOption) *Engine {
	e := &Engine{provider: p}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// PromptRequest is one call into the engine.
type PromptRequest struct {
	// System is sent as the first message of every LLM call. It is never
	// stored in History.
	System string
	// Input is appended to History as a user message before the first call.
	// Empty Input with no Images continues from the current history.
	Input  string
	Images []ImageData
	// History receives every produced message as it happens. Nil uses a
	// fresh, unshared history.
	History *History
	// Tools offered to the model. Nil offers none.
	Tools    Tool
	MaxTurns int
	Hook     *Hook
}

// Prompt runs the completion loop until the model answers without tool
// calls, a tool ends the turn, or the turn budget runs out.
//
// Returns the final text ("" when a tool ended the turn), *MaxTurnsError,
// *PromptCancelledError when ctx is done, or the provider error.
func (e *Engine) Prompt(ctx context.Context, req PromptRequest) (string, error) {
	history := req.History
	if history == nil {
		history = NewHistory()
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	var defs []ToolDefinition
	if req.Tools != nil {
		defs = req.Tools.Definitions()
	}

	ctx, span := startSpan(ctx, e.tracer, "engine.prompt",
		StringAttr("process", req.Hook.Process().String()),
		StringAttr("provider", e.provider.Name()),
		IntAttr("max_turns", maxTurns),
		IntAttr("tools", len(defs)))
	defer span.End()

	if req.Input != "" || len(req.Images) > 0 {
		msg := UserMessage(req.Input)
		msg.Images = req.Images
		history.Append(msg)
	}

	for turn := 0; turn < maxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			span.Error(err)
			return "", &PromptCancelledError{Reason: err.Error()}
		}

		text, done, err := e.turn(ctx, turn, req, history, defs)
		if err != nil {
			if ctx.Err() != nil {
				span.Error(ctx.Err())
				return "", &PromptCancelledError{Reason: ctx.Err().Error()}
			}
			span.Error(err)
			return "", err
		}
		if done {
			span.SetAttr(IntAttr("turns", turn+1))
			return text, nil
		}
	}

	e.logger.Warn("prompt hit max turns",
		"process_id", req.Hook.Process().String(),
		"max_turns", maxTurns)
	err := &MaxTurnsError{MaxTurns: maxTurns}
	span.Error(err)
	return "", err
}

// turn performs one LLM call and executes any tool calls it returns.
// done reports whether the loop should stop with text.
func (e *Engine) turn(ctx context.Context, n int, req PromptRequest, history *History, defs []ToolDefinition) (text string, done bool, err error) {
	ctx, span := startSpan(ctx, e.tracer, "engine.turn", IntAttr("turn", n))
	defer span.End()

	msgs := history.Snapshot()
	if req.System != "" {
		msgs = append([]ChatMessage{SystemMessage(req.System)}, msgs...)
	}

	req.Hook.OnCompletionCall(n)
	start := time.Now()
	resp, err := e.provider.Chat(ctx, ChatRequest{Messages: msgs, Tools: defs})
	if err != nil {
		span.Error(err)
		return "", false, err
	}
	span.SetAttr(
		IntAttr("tokens.input", resp.Usage.InputTokens),
		IntAttr("tokens.output", resp.Usage.OutputTokens),
		IntAttr("tool_calls", len(resp.ToolCalls)))
	e.logger.Debug("completion response received",
		"process_id", req.Hook.Process().String(),
		"turn", n,
		"tool_calls", len(resp.ToolCalls),
		"duration", time.Since(start))

	if len(resp.ToolCalls) == 0 {
		history.Append(AssistantMessage(resp.Content))
		return resp.Content, true, nil
	}

	history.Append(ChatMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

	endTurn := false
	for _, tc := range resp.ToolCalls {
		req.Hook.OnToolStarted(tc.Name)
		content, end := e.execTool(ctx, req.Tools, tc)
		req.Hook.OnToolCompleted(tc.Name, content)
		history.Append(ToolResultMessage(tc.ID, content))
		if end {
			endTurn = true
		}
	}
	if endTurn {
		return "", true, nil
	}
	return "", false, nil
}

// execTool runs one tool call, converting errors and panics into result text.
func (e *Engine) execTool(ctx context.Context, tools Tool, tc ToolCall) (content string, endTurn bool) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("tool panic", "tool_name", tc.Name, "panic", fmt.Sprintf("%v", p))
			content, endTurn = fmt.Sprintf("error: tool %q panic: %v", tc.Name, p), false
		}
	}()
	if tools == nil {
		return "error: unknown tool: " + tc.Name, false
	}
	res, err := tools.Execute(ctx, tc.Name, tc.Args)
	if err != nil {
		return "error: " + err.Error(), false
	}
	if res.Error != "" {
		return "error: " + res.Error, res.EndTurn
	}
	return res.Content, res.EndTurn
}
