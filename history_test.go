package tandem

import (
	"strings"
	"sync"
	"testing"
)

func TestHistorySnapshotIsIsolated(t *testing.T) {
	h := NewHistory(UserMessage("one"))
	snap := h.Snapshot()

	h.Append(UserMessage("two"))
	snap[0].Content = "mutated"

	if len(snap) != 1 {
		t.Errorf("snapshot grew to %d messages", len(snap))
	}
	got := h.Snapshot()
	if got[0].Content != "one" {
		t.Errorf("live history changed through snapshot: %q", got[0].Content)
	}
	if h.Len() != 2 {
		t.Errorf("Len() = %d, want 2", h.Len())
	}
}

func TestHistoryReplacePrefix(t *testing.T) {
	h := NewHistory(UserMessage("a"), UserMessage("b"), UserMessage("c"))
	prefix, gen := h.Prefix(2)
	if len(prefix) != 2 {
		t.Fatalf("Prefix(2) returned %d messages", len(prefix))
	}

	// Appends do not invalidate the generation.
	h.Append(UserMessage("d"))
	if !h.ReplacePrefix(gen, 2, []ChatMessage{UserMessage("summary")}) {
		t.Fatal("ReplacePrefix rejected a current generation")
	}
	got := h.Snapshot()
	want := []string{"summary", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Content != w {
			t.Errorf("msg[%d] = %q, want %q", i, got[i].Content, w)
		}
	}

	// A stale generation is refused.
	if h.ReplacePrefix(gen, 1, nil) {
		t.Error("ReplacePrefix accepted a stale generation")
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []ChatMessage{
		{Role: "user", Content: "abcdefgh"}, // 8 chars
		{Role: "user", Images: []ImageData{{MimeType: "image/png"}}},
	}
	if got := EstimateTokens(msgs); got != 2+imageTokenCost {
		t.Errorf("EstimateTokens = %d, want %d", got, 2+imageTokenCost)
	}
}

func TestHistoryConcurrentAccess(t *testing.T) {
	h := NewHistory()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h.Append(UserMessage("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = h.Snapshot()
			}
		}()
	}
	wg.Wait()
	if h.Len() != 400 {
		t.Errorf("Len() = %d, want 400", h.Len())
	}
}

func TestCloseToolCalls(t *testing.T) {
	calls := func(ids ...string) ChatMessage {
		m := ChatMessage{Role: "assistant"}
		for _, id := range ids {
			m.ToolCalls = append(m.ToolCalls, ToolCall{ID: id, Name: "t"})
		}
		return m
	}

	tests := []struct {
		name string
		in   []ChatMessage
		want []string // role:tool_call_id or role:content
	}{
		{
			name: "trailing unanswered call",
			in:   []ChatMessage{UserMessage("hi"), calls("a")},
			want: []string{"user:hi", "assistant:", "tool:a"},
		},
		{
			name: "partially answered calls",
			in:   []ChatMessage{calls("a", "b"), ToolResultMessage("a", "done")},
			want: []string{"assistant:", "tool:a", "tool:b"},
		},
		{
			name: "unanswered call in the middle",
			in:   []ChatMessage{calls("a"), UserMessage("next")},
			want: []string{"assistant:", "tool:a", "user:next"},
		},
		{
			name: "already paired",
			in:   []ChatMessage{calls("a"), ToolResultMessage("a", "ok"), AssistantMessage("fine")},
			want: []string{"assistant:", "tool:a", "assistant:fine"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := closeToolCalls(tt.in, "pending")
			var roles []string
			for _, m := range got {
				if m.Role == "tool" {
					roles = append(roles, "tool:"+m.ToolCallID)
					continue
				}
				roles = append(roles, m.Role+":"+m.Content)
			}
			if strings.Join(roles, ",") != strings.Join(tt.want, ",") {
				t.Errorf("got %v, want %v", roles, tt.want)
			}
		})
	}

	got := closeToolCalls([]ChatMessage{calls("a")}, "pending")
	if got[1].Content != "pending" {
		t.Errorf("placeholder content = %q", got[1].Content)
	}
}
