package tandem

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// stubProvider is a test Provider that returns pre-configured results in order.
type stubProvider struct {
	calls   int
	results []stubResult
}

type stubResult struct {
	resp ChatResponse
	err  error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.results) {
		return s.results[i].resp, s.results[i].err
	}
	return ChatResponse{}, nil
}

var _ Provider = (*stubProvider)(nil)

func TestWithRetry_SucceedsFirstAttempt(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{resp: ChatResponse{Content: "hello"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	resp, err := p.Chat(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("got %q, want %q", resp.Content, "hello")
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_RetriesTransient(t *testing.T) {
	for _, status := range []int{429, 503} {
		stub := &stubProvider{results: []stubResult{
			{err: &ErrHTTP{Status: status, Body: "busy"}},
			{resp: ChatResponse{Content: "hello"}},
		}}
		p := WithRetry(stub, RetryBaseDelay(0))

		resp, err := p.Chat(context.Background(), ChatRequest{})
		if err != nil {
			t.Fatalf("status %d: unexpected error: %v", status, err)
		}
		if resp.Content != "hello" || stub.calls != 2 {
			t.Errorf("status %d: content=%q calls=%d", status, resp.Content, stub.calls)
		}
	}
}

func TestWithRetry_DoesNotRetryNonTransient(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 400, Body: "bad request"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	_, err := p.Chat(context.Background(), ChatRequest{})
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) || httpErr.Status != 400 {
		t.Fatalf("expected ErrHTTP 400, got %v", err)
	}
	if stub.calls != 1 {
		t.Errorf("got %d calls, want 1", stub.calls)
	}
}

func TestWithRetry_ExhaustsMaxAttempts(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 503}},
		{err: &ErrHTTP{Status: 503}},
		{err: &ErrHTTP{Status: 503}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryMaxAttempts(3))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if stub.calls != 3 {
		t.Errorf("got %d calls, want 3", stub.calls)
	}
}

func TestWithRetry_RespectsRetryAfter(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0))

	start := time.Now()
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("retry was too fast: %v", elapsed)
	}
}

func TestWithRetry_TimeoutExceeded(t *testing.T) {
	stub := &stubProvider{results: []stubResult{
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{err: &ErrHTTP{Status: 429, RetryAfter: 100 * time.Millisecond}},
		{resp: ChatResponse{Content: "ok"}},
	}}
	p := WithRetry(stub, RetryBaseDelay(0), RetryTimeout(50*time.Millisecond))

	if _, err := p.Chat(context.Background(), ChatRequest{}); err == nil {
		t.Fatal("expected error due to timeout, got nil")
	}
	if stub.calls > 2 {
		t.Errorf("got %d calls, expected at most 2 with 50ms timeout", stub.calls)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if got := ParseRetryAfter("3"); got != 3*time.Second {
		t.Errorf("ParseRetryAfter(3) = %v", got)
	}
	if got := ParseRetryAfter(""); got != 0 {
		t.Errorf("ParseRetryAfter(\"\") = %v", got)
	}
	if got := ParseRetryAfter("soon"); got != 0 {
		t.Errorf("ParseRetryAfter(soon) = %v", got)
	}
	future := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	if got := ParseRetryAfter(future); got <= 0 || got > time.Minute {
		t.Errorf("ParseRetryAfter(date) = %v", got)
	}
}
