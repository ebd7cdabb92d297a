package tandem

import (
	"sync"
	"unicode/utf8"
)

// imageTokenCost is the flat token estimate charged per image.
const imageTokenCost = 1000

// History is a conversation history guarded by a reader/writer lock.
// Readers get deep copies; the live slice never escapes.
type History struct {
	mu   sync.RWMutex
	msgs []ChatMessage
	gen  uint64 // bumped whenever the prefix is rewritten
}

// NewHistory creates a history seeded with msgs (copied).
func NewHistory(msgs ...ChatMessage) *History {
	h := &History{}
	h.msgs = cloneMessages(msgs)
	return h
}

// Snapshot returns a deep copy of the current messages.
func (h *History) Snapshot() []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return cloneMessages(h.msgs)
}

// Append adds messages at the end.
func (h *History) Append(msgs ...ChatMessage) {
	if len(msgs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, m := range msgs {
		h.msgs = append(h.msgs, m.Clone())
	}
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}

// Generation returns a counter that changes every time the prefix is rewritten.
func (h *History) Generation() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.gen
}

// Prefix returns a deep copy of the first n messages along with the current
// generation, for use with ReplacePrefix.
func (h *History) Prefix(n int) ([]ChatMessage, uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n = min(n, len(h.msgs))
	return cloneMessages(h.msgs[:n]), h.gen
}

// ReplacePrefix swaps the first n messages for replacement, provided no other
// prefix rewrite happened since gen was observed. It reports whether the
// replacement was applied.
func (h *History) ReplacePrefix(gen uint64, n int, replacement []ChatMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.gen || n > len(h.msgs) {
		return false
	}
	rest := h.msgs[n:]
	next := make([]ChatMessage, 0, len(replacement)+len(rest))
	next = append(next, cloneMessages(replacement)...)
	next = append(next, rest...)
	h.msgs = next
	h.gen++
	return true
}

// EstimateTokens returns a rough token count for the whole history.
func (h *History) EstimateTokens() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return EstimateTokens(h.msgs)
}

// EstimateTokens approximates the token count of msgs at four characters per
// token, plus a flat cost per image and per tool call argument payload.
func EstimateTokens(msgs []ChatMessage) int {
	chars := 0
	images := 0
	for _, m := range msgs {
		chars += utf8.RuneCountInString(m.Content)
		for _, tc := range m.ToolCalls {
			chars += utf8.RuneCountInString(tc.Name) + len(tc.Args)
		}
		images += len(m.Images)
	}
	return chars/4 + images*imageTokenCost
}

func cloneMessages(msgs []ChatMessage) []ChatMessage {
	if msgs == nil {
		return nil
	}
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// closeToolCalls answers every tool call in msgs that has no result yet
// with a placeholder result, inserted right after the calls it answers.
// Provider APIs reject a history where a tool call is not followed by its
// result, which is what a snapshot taken mid-turn looks like.
func closeToolCalls(msgs []ChatMessage, placeholder string) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	var pending []string
	answered := make(map[string]bool)

	flush := func() {
		for _, id := range pending {
			if !answered[id] {
				out = append(out, ToolResultMessage(id, placeholder))
			}
		}
		pending = nil
		clear(answered)
	}

	for _, m := range msgs {
		if m.Role == "tool" && len(pending) > 0 {
			answered[m.ToolCallID] = true
			out = append(out, m)
			continue
		}
		flush()
		out = append(out, m)
		for _, tc := range m.ToolCalls {
			pending = append(pending, tc.ID)
		}
	}
	flush()
	return out
}
