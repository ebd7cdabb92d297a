package tandem

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// --- Tool mocks ---

type mockTool struct{}

func (m mockTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "greet", Description: "Say hello"}}
}

func (m mockTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "hello from " + name}, nil
}

type mockToolCalc struct{}

func (m mockToolCalc) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "calc", Description: "Calculate"}}
}
func (m mockToolCalc) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "result from " + name}, nil
}

type errTool struct{}

func (e errTool) Definitions() []ToolDefinition {
	return []ToolDefinition{{Name: "fail", Description: "Always fails"}}
}
func (e errTool) Execute(_ context.Context, _ string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{}, errors.New("tool broken")
}

type multiTool struct{}

func (m multiTool) Definitions() []ToolDefinition {
	return []ToolDefinition{
		{Name: "alpha", Description: "First"},
		{Name: "beta", Description: "Second"},
	}
}
func (m multiTool) Execute(_ context.Context, name string, _ json.RawMessage) (ToolResult, error) {
	return ToolResult{Content: "multi:" + name}, nil
}

// --- Provider mocks ---

// scriptedProvider answers each Chat call with the next step of its script.
// Past the end of the script it answers with fallback text. Safe for
// concurrent use; every request is recorded.
type scriptedProvider struct {
	mu       sync.Mutex
	steps    []step
	fallback string
	requests []ChatRequest
}

// step is one scripted reply. When block is set the call waits for ctx.
type step struct {
	resp  ChatResponse
	err   error
	block bool
	fn    func(ChatRequest) (ChatResponse, error)
}

func textStep(s string) step { return step{resp: ChatResponse{Content: s}} }

func toolStep(name, args string) step {
	return step{resp: ChatResponse{ToolCalls: []ToolCall{{
		ID:   "call-" + name,
		Name: name,
		Args: json.RawMessage(args),
	}}}}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var s step
	if len(p.steps) > 0 {
		s = p.steps[0]
		p.steps = p.steps[1:]
	} else {
		s = textStep(p.fallback)
	}
	p.mu.Unlock()

	if s.block {
		<-ctx.Done()
		return ChatResponse{}, ctx.Err()
	}
	if s.fn != nil {
		return s.fn(req)
	}
	return s.resp, s.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) lastRequest() ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return ChatRequest{}
	}
	return p.requests[len(p.requests)-1]
}

// providerFunc adapts a function to Provider.
type providerFunc func(ctx context.Context, req ChatRequest) (ChatResponse, error)

func (f providerFunc) Name() string { return "func" }
func (f providerFunc) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return f(ctx, req)
}

// --- Collaborator mocks ---

type loggedMessage struct {
	channelID ChannelID
	role      string
	name      string
	text      string
}

// recordingLogger is a ConversationLogger that keeps every call.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []loggedMessage
}

func (l *recordingLogger) LogUserMessage(channelID ChannelID, displayName, _, text string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, loggedMessage{channelID: channelID, role: "user", name: displayName, text: text})
}

func (l *recordingLogger) LogBotMessage(channelID ChannelID, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, loggedMessage{channelID: channelID, role: "assistant", text: text})
}

func (l *recordingLogger) byRole(role string) []loggedMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []loggedMessage
	for _, m := range l.msgs {
		if m.role == role {
			out = append(out, m)
		}
	}
	return out
}

// countingCompactor records CheckAndCompact calls and returns err.
type countingCompactor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingCompactor) CheckAndCompact(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func (c *countingCompactor) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// memoryStore is an in-memory MessageStore.
type memoryStore struct {
	mu   sync.Mutex
	msgs []ConversationMessage
	err  error
}

func (s *memoryStore) SaveMessage(_ context.Context, msg ConversationMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *memoryStore) LoadMessages(_ context.Context, channelID ChannelID, limit int) ([]ConversationMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ConversationMessage
	for _, m := range s.msgs {
		if m.ChannelID == channelID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

type staticSkills map[string]string

func (s staticSkills) Instructions(name string) (string, error) {
	if v, ok := s[name]; ok {
		return v, nil
	}
	return "", errors.New("skill not found: " + name)
}

func (s staticSkills) Render() string {
	if len(s) == 0 {
		return ""
	}
	return "## Available Skills"
}

type staticResolver []ContentPart

func (r staticResolver) Resolve(context.Context, []Attachment) []ContentPart { return r }
