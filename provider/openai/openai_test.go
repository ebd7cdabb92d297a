package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nevindra/tandem"
)

func testServer(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New("sk-test", "gpt-test", WithBaseURL(srv.URL+"/v1/"))
}

func TestChatToolCalls(t *testing.T) {
	var body map[string]any
	p := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth = %q", r.Header.Get("Authorization"))
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"",
			"tool_calls":[{"id":"call_1","type":"function","function":{"name":"branch","arguments":"{\"description\":\"look\"}"}}]}}],
			"usage":{"prompt_tokens":20,"completion_tokens":4,"total_tokens":24}}`)
	})

	resp, err := p.Chat(context.Background(), tandem.ChatRequest{
		Messages: []tandem.ChatMessage{
			tandem.SystemMessage("sys"),
			tandem.UserMessage("hi"),
			{Role: "assistant", ToolCalls: []tandem.ToolCall{{ID: "old", Name: "reply", Args: json.RawMessage(`{"text":"x"}`)}}},
			tandem.ToolResultMessage("old", "sent"),
		},
		Tools: []tandem.ToolDefinition{{Name: "branch", Description: "think", Parameters: json.RawMessage(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_1" || resp.ToolCalls[0].Name != "branch" {
		t.Fatalf("ToolCalls = %+v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[0].Args) != `{"description":"look"}` {
		t.Errorf("Args = %s", resp.ToolCalls[0].Args)
	}
	if resp.Usage.InputTokens != 20 || resp.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("sent %d messages, want 4", len(msgs))
	}
	tool, _ := msgs[3].(map[string]any)
	if tool["role"] != "tool" || tool["tool_call_id"] != "old" {
		t.Errorf("tool message = %v", tool)
	}
	raw, _ := json.Marshal(body["tools"])
	if !strings.Contains(string(raw), `"name":"branch"`) {
		t.Errorf("tools = %s", raw)
	}
}

func TestChatImagesAsDataURL(t *testing.T) {
	var raw []byte
	p := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c","object":"chat.completion","created":1,"model":"gpt-test",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"a cat"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	})
	msg := tandem.UserMessage("what is this")
	msg.Images = []tandem.ImageData{{MimeType: "image/png", Base64: "AAAA"}}

	resp, err := p.Chat(context.Background(), tandem.ChatRequest{Messages: []tandem.ChatMessage{msg}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "a cat" {
		t.Errorf("Content = %q", resp.Content)
	}
	if !strings.Contains(string(raw), "data:image/png;base64,AAAA") {
		t.Errorf("request body missing data URL: %s", raw)
	}
}

func TestChatMapsServerError(t *testing.T) {
	p := testServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	})
	_, err := p.Chat(context.Background(), tandem.ChatRequest{Messages: []tandem.ChatMessage{tandem.UserMessage("hi")}})
	var httpErr *tandem.ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want ErrHTTP 503", err)
	}
}

func TestWithName(t *testing.T) {
	if got := New("", "m", WithName("openrouter")).Name(); got != "openrouter" {
		t.Errorf("Name = %q", got)
	}
}
