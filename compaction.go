package tandem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// CompactionLevel is the escalation step chosen from the context-fill ratio.
type CompactionLevel int

const (
	CompactionNone CompactionLevel = iota
	CompactionBackground
	CompactionAggressive
	CompactionEmergency
)

func (l CompactionLevel) String() string {
	switch l {
	case CompactionNone:
		return "none"
	case CompactionBackground:
		return "background"
	case CompactionAggressive:
		return "aggressive"
	case CompactionEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// CompactionConfig holds three escalating context-fill thresholds.
type CompactionConfig struct {
	BackgroundThreshold float64 `toml:"background_threshold" env:"BACKGROUND_THRESHOLD"`
	AggressiveThreshold float64 `toml:"aggressive_threshold" env:"AGGRESSIVE_THRESHOLD"`
	EmergencyThreshold  float64 `toml:"emergency_threshold" env:"EMERGENCY_THRESHOLD"`
}

// DefaultCompactionConfig returns thresholds 0.80, 0.85, and 0.95.
func DefaultCompactionConfig() CompactionConfig {
	return CompactionConfig{
		BackgroundThreshold: 0.80,
		AggressiveThreshold: 0.85,
		EmergencyThreshold:  0.95,
	}
}

// Validate checks the thresholds lie in (0, 1] and strictly increase.
func (c CompactionConfig) Validate() error {
	if c.BackgroundThreshold <= 0 || c.EmergencyThreshold > 1 {
		return fmt.Errorf("compaction thresholds must be in (0, 1], got %.2f/%.2f/%.2f",
			c.BackgroundThreshold, c.AggressiveThreshold, c.EmergencyThreshold)
	}
	if !(c.BackgroundThreshold < c.AggressiveThreshold && c.AggressiveThreshold < c.EmergencyThreshold) {
		return fmt.Errorf("compaction thresholds must increase: background %.2f < aggressive %.2f < emergency %.2f",
			c.BackgroundThreshold, c.AggressiveThreshold, c.EmergencyThreshold)
	}
	return nil
}

// Level maps a context-fill ratio to the highest threshold it crosses.
func (c CompactionConfig) Level(ratio float64) CompactionLevel {
	switch {
	case ratio >= c.EmergencyThreshold:
		return CompactionEmergency
	case ratio >= c.AggressiveThreshold:
		return CompactionAggressive
	case ratio >= c.BackgroundThreshold:
		return CompactionBackground
	default:
		return CompactionNone
	}
}

// CompactionTrigger decides, once per completed channel turn, whether and
// how to shrink the channel history. A returned error is advisory: callers
// log it and carry on.
type CompactionTrigger interface {
	CheckAndCompact(ctx context.Context) error
}

const (
	backgroundFraction = 0.3
	aggressiveFraction = 0.5
	emergencyFraction  = 0.5

	summaryPrefix = "[Compacted summary of earlier conversation]: "

	defaultCompactorPrompt = "You are a conversation compactor. Summarize the conversation excerpt below " +
		"into a concise record of facts, decisions, open questions, and commitments. " +
		"Keep names, identifiers, and numbers exact. Reply with the summary only."
)

// Compactor is the default CompactionTrigger. Background and aggressive
// levels summarize the oldest part of the history with an LLM in a
// background goroutine; the emergency level truncates synchronously.
// At most one compaction runs at a time.
type Compactor struct {
	channelID     ChannelID
	cfg           CompactionConfig
	contextWindow int
	history       *History
	summarizer    Provider
	prompt        string
	logger        *slog.Logger
	tracer        Tracer
	timeout       time.Duration

	running atomic.Bool
	wg      sync.WaitGroup
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// CompactorLogger sets the structured logger.
func CompactorLogger(l *slog.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// CompactorTracer enables spans for compaction runs.
func CompactorTracer(t Tracer) CompactorOption {
	return func(c *Compactor) { c.tracer = t }
}

// CompactorPrompt overrides the summarization system prompt.
func CompactorPrompt(p string) CompactorOption {
	return func(c *Compactor) {
		if p != "" {
			c.prompt = p
		}
	}
}

// CompactorTimeout bounds one background summarization (default 2m).
func CompactorTimeout(d time.Duration) CompactorOption {
	return func(c *Compactor) { c.timeout = d }
}

// NewCompactor creates a compactor for one channel history. summarizer may
// be nil, in which case every level truncates instead of summarizing.
func NewCompactor(channelID ChannelID, cfg CompactionConfig, contextWindow int, history *History, summarizer Provider, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		channelID:     channelID,
		cfg:           cfg,
		contextWindow: contextWindow,
		history:       history,
		summarizer:    summarizer,
		prompt:        defaultCompactorPrompt,
		timeout:       2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	return c
}

// Usage returns the estimated context-fill ratio of the history.
func (c *Compactor) Usage() float64 {
	if c.contextWindow <= 0 {
		return 0
	}
	return float64(c.history.EstimateTokens()) / float64(c.contextWindow)
}

// CheckAndCompact inspects the context-fill ratio and starts the matching
// compaction. Background work outlives ctx cancellation.
func (c *Compactor) CheckAndCompact(ctx context.Context) error {
	if c.contextWindow <= 0 {
		return &CompactionError{Stage: "check", Err: fmt.Errorf("invalid context window %d", c.contextWindow)}
	}
	ratio := c.Usage()
	level := c.cfg.Level(ratio)
	if level == CompactionNone {
		return nil
	}

	c.logger.Info("compaction triggered",
		"channel_id", string(c.channelID),
		"level", level.String(),
		"usage", fmt.Sprintf("%.2f", ratio))

	if level == CompactionEmergency {
		return c.truncate(ctx, emergencyFraction)
	}

	if !c.running.CompareAndSwap(false, true) {
		c.logger.Debug("compaction already in progress", "channel_id", string(c.channelID))
		return nil
	}
	fraction := backgroundFraction
	if level == CompactionAggressive {
		fraction = aggressiveFraction
	}
	bg := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.running.Store(false)
		if err := c.summarize(bg, level, fraction); err != nil {
			c.logger.Warn("background compaction failed",
				"channel_id", string(c.channelID),
				"level", level.String(),
				"error", err)
		}
	}()
	return nil
}

// Wait blocks until any in-flight background compaction finishes.
func (c *Compactor) Wait() { c.wg.Wait() }

// summarize replaces the oldest fraction of the history with an LLM summary.
func (c *Compactor) summarize(ctx context.Context, level CompactionLevel, fraction float64) error {
	if c.summarizer == nil {
		return c.truncate(ctx, fraction)
	}
	ctx, span := startSpan(ctx, c.tracer, "compaction.summarize",
		StringAttr("channel_id", string(c.channelID)),
		StringAttr("level", level.String()))
	defer span.End()

	n := c.cutPoint(fraction)
	if n == 0 {
		return nil
	}
	prefix, gen := c.history.Prefix(n)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.summarizer.Chat(ctx, ChatRequest{Messages: []ChatMessage{
		SystemMessage(c.prompt),
		UserMessage(transcript(prefix)),
	}})
	if err != nil {
		span.Error(err)
		return &CompactionError{Stage: "summarize", Err: err}
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		err := errors.New("empty summary")
		span.Error(err)
		return &CompactionError{Stage: "summarize", Err: err}
	}

	if !c.history.ReplacePrefix(gen, n, []ChatMessage{UserMessage(summaryPrefix + summary)}) {
		c.logger.Info("discarding stale compaction summary", "channel_id", string(c.channelID))
		return nil
	}
	span.SetAttr(IntAttr("messages_compacted", n))
	c.logger.Info("history compacted",
		"channel_id", string(c.channelID),
		"level", level.String(),
		"messages_compacted", n)
	return nil
}

// truncate drops the oldest fraction of the history and leaves a marker.
func (c *Compactor) truncate(ctx context.Context, fraction float64) error {
	_, span := startSpan(ctx, c.tracer, "compaction.truncate", StringAttr("channel_id", string(c.channelID)))
	defer span.End()

	n := c.cutPoint(fraction)
	if n == 0 {
		c.logger.Warn("history too short to truncate",
			"channel_id", string(c.channelID),
			"messages", c.history.Len(),
			"usage", fmt.Sprintf("%.2f", c.Usage()))
		return nil
	}
	_, gen := c.history.Prefix(n)
	marker := UserMessage(fmt.Sprintf("[System: %d earlier messages were removed to free context space.]", n))
	if !c.history.ReplacePrefix(gen, n, []ChatMessage{marker}) {
		err := &CompactionError{Stage: "truncate", Err: errors.New("history rewritten concurrently")}
		span.Error(err)
		return err
	}
	c.logger.Warn("history truncated",
		"channel_id", string(c.channelID),
		"messages_removed", n)
	return nil
}

// cutPoint returns how many leading messages to compact. The cut never
// leaves a tool result separated from the assistant message that called it.
func (c *Compactor) cutPoint(fraction float64) int {
	msgs := c.history.Snapshot()
	n := int(float64(len(msgs)) * fraction)
	if n < 2 {
		return 0
	}
	for n < len(msgs) && msgs[n].Role == "tool" {
		n++
	}
	return n
}

// transcript renders messages as plain text for the summarizer.
func transcript(msgs []ChatMessage) string {
	var b strings.Builder
	for _, m := range msgs {
		switch {
		case m.Role == "tool":
			fmt.Fprintf(&b, "tool result: %s\n", m.Content)
		case len(m.ToolCalls) > 0:
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "%s called %s(%s)\n", m.Role, tc.Name, string(tc.Args))
			}
			if m.Content != "" {
				fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			}
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
			if len(m.Images) > 0 {
				fmt.Fprintf(&b, "(%d image(s) attached)\n", len(m.Images))
			}
		}
	}
	return b.String()
}

var _ CompactionTrigger = (*Compactor)(nil)
