package tandem

import (
	"encoding/json"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  ChatMessage
		role string
	}{
		{UserMessage("hi"), "user"},
		{SystemMessage("sys"), "system"},
		{AssistantMessage("ok"), "assistant"},
		{ToolResultMessage("call-1", "out"), "tool"},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role {
			t.Errorf("Role = %q, want %q", tt.msg.Role, tt.role)
		}
	}
	if got := ToolResultMessage("call-1", "out").ToolCallID; got != "call-1" {
		t.Errorf("ToolCallID = %q, want call-1", got)
	}
}

func TestChatMessageCloneIsDeep(t *testing.T) {
	orig := ChatMessage{
		Role:      "assistant",
		Images:    []ImageData{{MimeType: "image/png", Base64: "aaa"}},
		ToolCalls: []ToolCall{{ID: "1", Name: "reply", Args: json.RawMessage(`{"text":"a"}`)}},
	}
	c := orig.Clone()
	c.Images[0].Base64 = "bbb"
	c.ToolCalls[0].Name = "branch"
	c.ToolCalls[0].Args[2] = 'X'

	if orig.Images[0].Base64 != "aaa" {
		t.Error("clone shares Images with original")
	}
	if orig.ToolCalls[0].Name != "reply" {
		t.Error("clone shares ToolCalls with original")
	}
	if string(orig.ToolCalls[0].Args) != `{"text":"a"}` {
		t.Errorf("clone shares Args with original: %s", orig.ToolCalls[0].Args)
	}
}
