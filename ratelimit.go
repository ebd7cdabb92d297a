package tandem

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimitProvider throttles calls to a shared Provider. Channels, branches
// and workers all hit the same backend, so the budget is enforced here
// rather than per process.
type rateLimitProvider struct {
	inner    Provider
	requests *rate.Limiter

	mu     sync.Mutex
	tpm    int
	window []tokenEntry
}

type tokenEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures WithRateLimit.
type RateLimitOption func(*rateLimitProvider)

// RPM caps requests per minute. Up to n requests may burst.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) {
		if n > 0 {
			r.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		}
	}
}

// TPM caps input plus output tokens per minute. Usage is recorded after
// each response, so the call that crosses the budget completes and later
// calls wait for the window to slide.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitProvider) { r.tpm = n }
}

// WithRateLimit wraps p with proactive rate limiting. With no options it
// returns p unchanged.
//
//	llm := tandem.WithRateLimit(tandem.WithRetry(provider), tandem.RPM(50))
func WithRateLimit(p Provider, opts ...RateLimitOption) Provider {
	r := &rateLimitProvider{inner: p}
	for _, opt := range opts {
		opt(r)
	}
	if r.requests == nil && r.tpm <= 0 {
		return p
	}
	return r
}

func (r *rateLimitProvider) Name() string { return r.inner.Name() }

func (r *rateLimitProvider) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.waitTokens(ctx); err != nil {
		return ChatResponse{}, err
	}
	if r.requests != nil {
		if err := r.requests.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ChatResponse{}, ctx.Err()
			}
			return ChatResponse{}, err
		}
	}
	resp, err := r.inner.Chat(ctx, req)
	if err == nil {
		r.record(resp.Usage)
	}
	return resp, err
}

// waitTokens blocks until the last minute's token usage is under budget.
func (r *rateLimitProvider) waitTokens(ctx context.Context) error {
	if r.tpm <= 0 {
		return nil
	}
	for {
		r.mu.Lock()
		now := time.Now()
		r.window = pruneTokens(r.window, now.Add(-time.Minute))
		total := 0
		for _, e := range r.window {
			total += e.tokens
		}
		if total < r.tpm {
			r.mu.Unlock()
			return nil
		}
		wait := r.window[0].at.Add(time.Minute).Sub(now)
		r.mu.Unlock()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *rateLimitProvider) record(u Usage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.window = append(r.window, tokenEntry{at: time.Now(), tokens: total})
	r.mu.Unlock()
}

// pruneTokens drops entries older than cutoff from a time-ordered window.
func pruneTokens(s []tokenEntry, cutoff time.Time) []tokenEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ Provider = (*rateLimitProvider)(nil)
