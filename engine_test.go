package tandem

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEnginePlainAnswer(t *testing.T) {
	p := &scriptedProvider{steps: []step{textStep("hi there")}}
	h := NewHistory()

	out, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		System:  "be nice",
		Input:   "hello",
		History: h,
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if out != "hi there" {
		t.Errorf("out = %q", out)
	}
	msgs := h.Snapshot()
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("history = %+v", msgs)
	}
	req := p.lastRequest()
	if req.Messages[0].Role != "system" || req.Messages[0].Content != "be nice" {
		t.Errorf("first message = %+v, want system prompt", req.Messages[0])
	}
}

func TestEngineToolLoop(t *testing.T) {
	p := &scriptedProvider{steps: []step{toolStep("greet", `{}`), textStep("said hello")}}
	h := NewHistory()

	out, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input:   "greet someone",
		History: h,
		Tools:   NewToolServer(mockTool{}),
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if out != "said hello" {
		t.Errorf("out = %q", out)
	}
	// user, assistant(tool call), tool result, assistant
	msgs := h.Snapshot()
	if len(msgs) != 4 {
		t.Fatalf("history has %d messages, want 4", len(msgs))
	}
	if msgs[2].Role != "tool" || msgs[2].Content != "hello from greet" || msgs[2].ToolCallID != "call-greet" {
		t.Errorf("tool result = %+v", msgs[2])
	}
	if defs := p.lastRequest().Tools; len(defs) != 1 || defs[0].Name != "greet" {
		t.Errorf("tools offered = %v", defs)
	}
}

func TestEngineToolErrorsBecomeResults(t *testing.T) {
	p := &scriptedProvider{steps: []step{toolStep("fail", `{}`), toolStep("missing", `{}`), textStep("ok")}}
	h := NewHistory()

	if _, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input: "go", History: h, Tools: NewToolServer(errTool{}),
	}); err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	var results []string
	for _, m := range h.Snapshot() {
		if m.Role == "tool" {
			results = append(results, m.Content)
		}
	}
	if len(results) != 2 || results[0] != "error: tool broken" || results[1] != "error: unknown tool: missing" {
		t.Errorf("tool results = %q", results)
	}
}

type endTurnTool struct{}

func (endTurnTool) Definitions() []ToolDefinition { return []ToolDefinition{{Name: "reply"}} }
func (endTurnTool) Execute(context.Context, string, json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "sent", EndTurn: true}, nil
}

func TestEngineEndTurn(t *testing.T) {
	p := &scriptedProvider{steps: []step{toolStep("reply", `{"text":"hi"}`)}, fallback: "should not be called"}

	out, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input: "hi", Tools: NewToolServer(endTurnTool{}),
	})
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if out != "" {
		t.Errorf("out = %q, want empty", out)
	}
	if p.calls() != 1 {
		t.Errorf("provider called %d times, want 1", p.calls())
	}
}

func TestEngineMaxTurns(t *testing.T) {
	loop := step{fn: func(ChatRequest) (ChatResponse, error) {
		return ChatResponse{ToolCalls: []ToolCall{{ID: "c", Name: "greet"}}}, nil
	}}
	p := &scriptedProvider{steps: []step{loop, loop, loop, loop}}

	_, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input: "loop", Tools: NewToolServer(mockTool{}), MaxTurns: 3,
	})
	var maxErr *MaxTurnsError
	if !errors.As(err, &maxErr) || maxErr.MaxTurns != 3 {
		t.Fatalf("err = %v, want MaxTurnsError{3}", err)
	}
	if p.calls() != 3 {
		t.Errorf("provider called %d times, want 3", p.calls())
	}
}

func TestEngineCancelled(t *testing.T) {
	p := &scriptedProvider{steps: []step{{block: true}}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewEngine(p).Prompt(ctx, PromptRequest{Input: "wait"})
	var cancelled *PromptCancelledError
	if !errors.As(err, &cancelled) {
		t.Fatalf("err = %v, want PromptCancelledError", err)
	}
}

func TestEngineProviderError(t *testing.T) {
	p := &scriptedProvider{steps: []step{{err: &ErrLLM{Provider: "scripted", Message: "bad"}}}}
	_, err := NewEngine(p).Prompt(context.Background(), PromptRequest{Input: "x"})
	var llmErr *ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("err = %v, want ErrLLM", err)
	}
}

type panicTool struct{}

func (panicTool) Definitions() []ToolDefinition { return []ToolDefinition{{Name: "explode"}} }
func (panicTool) Execute(context.Context, string, json.RawMessage) (ToolResult, error) {
	panic("kaboom")
}

func TestEngineRecoversToolPanic(t *testing.T) {
	p := &scriptedProvider{steps: []step{toolStep("explode", `{}`), textStep("recovered")}}
	h := NewHistory()
	out, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input: "x", History: h, Tools: NewToolServer(panicTool{}),
	})
	if err != nil || out != "recovered" {
		t.Fatalf("Prompt = %q, %v", out, err)
	}
	if got := h.Snapshot()[2].Content; !strings.Contains(got, "kaboom") {
		t.Errorf("tool result = %q, want panic text", got)
	}
}

func TestEngineHookPublishesToolEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()
	sub := bus.Subscribe()

	p := &scriptedProvider{steps: []step{toolStep("greet", `{}`), textStep("done")}}
	_, err := NewEngine(p).Prompt(context.Background(), PromptRequest{
		Input: "x", Tools: NewToolServer(mockTool{}), Hook: NewHook("a", WorkerProcess("w1"), bus, nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := recvEvent(t, sub).(ToolStartedEvent); !ok {
		t.Error("expected ToolStartedEvent first")
	}
	if ev, ok := recvEvent(t, sub).(ToolCompletedEvent); !ok || ev.Result != "hello from greet" {
		t.Errorf("expected ToolCompletedEvent, got %+v", ev)
	}
}
