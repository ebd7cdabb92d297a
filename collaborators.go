package tandem

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ConversationLogger persists the human-visible conversation. Calls are
// fire-and-forget: implementations must not block the caller on I/O and
// report their own failures.
type ConversationLogger interface {
	LogUserMessage(channelID ChannelID, displayName, senderID, text string, metadata map[string]any)
	LogBotMessage(channelID ChannelID, text string)
}

// ConversationMessage is one persisted conversation entry.
type ConversationMessage struct {
	ID         string         `json:"id"`
	ChannelID  ChannelID      `json:"channel_id"`
	Role       string         `json:"role"` // "user" or "assistant"
	SenderName string         `json:"sender_name,omitempty"`
	SenderID   string         `json:"sender_id,omitempty"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  int64          `json:"created_at"`
}

// MessageStore is synchronous conversation persistence, implemented by the
// store/sqlite and store/postgres packages.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg ConversationMessage) error
	// LoadMessages returns up to limit most recent messages of a channel,
	// oldest first.
	LoadMessages(ctx context.Context, channelID ChannelID, limit int) ([]ConversationMessage, error)
}

// AttachmentResolver downloads and converts attachments into content the
// LLM can consume. It never fails: unreadable attachments become text
// placeholders.
type AttachmentResolver interface {
	Resolve(ctx context.Context, attachments []Attachment) []ContentPart
}

// Messenger is a chat platform adapter.
type Messenger interface {
	Name() string
	// Start connects and returns the inbound message feed. The feed closes
	// when ctx is cancelled.
	Start(ctx context.Context) (<-chan InboundMessage, error)
	// Respond delivers one outbound response in reply to target.
	Respond(ctx context.Context, target InboundMessage, resp OutboundResponse) error
}

// SkillSet exposes named instruction bundles to channels and workers.
type SkillSet interface {
	// Instructions returns the full instructions of a skill.
	Instructions(name string) (string, error)
	// Render lists the available skills for a system prompt, or "".
	Render() string
}

// AsyncLogger adapts a MessageStore to ConversationLogger. Writes are queued
// and persisted by a single goroutine; when the queue is full the message is
// dropped and a warning logged.
type AsyncLogger struct {
	store   MessageStore
	logger  *slog.Logger
	timeout time.Duration
	queue   chan ConversationMessage
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// AsyncLoggerOption configures an AsyncLogger.
type AsyncLoggerOption func(*AsyncLogger)

// AsyncLoggerLogger sets the structured logger for write failures.
func AsyncLoggerLogger(l *slog.Logger) AsyncLoggerOption {
	return func(a *AsyncLogger) { a.logger = l }
}

// AsyncLoggerQueue sets the queue capacity (default 256).
func AsyncLoggerQueue(n int) AsyncLoggerOption {
	return func(a *AsyncLogger) {
		if n > 0 {
			a.queue = make(chan ConversationMessage, n)
		}
	}
}

// NewAsyncLogger starts the writer goroutine. Call Close to flush and stop.
func NewAsyncLogger(store MessageStore, opts ...AsyncLoggerOption) *AsyncLogger {
	a := &AsyncLogger{
		store:   store,
		timeout: 10 * time.Second,
		queue:   make(chan ConversationMessage, 256),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = nopLogger
	}
	a.wg.Add(1)
	go a.loop()
	return a
}

func (a *AsyncLogger) loop() {
	defer a.wg.Done()
	for msg := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.store.SaveMessage(ctx, msg); err != nil {
			a.logger.Warn("failed to persist conversation message",
				"channel_id", string(msg.ChannelID), "role", msg.Role, "error", err)
		}
		cancel()
	}
}

// LogUserMessage queues an inbound user message.
func (a *AsyncLogger) LogUserMessage(channelID ChannelID, displayName, senderID, text string, metadata map[string]any) {
	a.enqueue(ConversationMessage{
		ID:         NewID(),
		ChannelID:  channelID,
		Role:       "user",
		SenderName: displayName,
		SenderID:   senderID,
		Content:    text,
		Metadata:   metadata,
		CreatedAt:  NowUnix(),
	})
}

// LogBotMessage queues an outbound assistant message.
func (a *AsyncLogger) LogBotMessage(channelID ChannelID, text string) {
	a.enqueue(ConversationMessage{
		ID:        NewID(),
		ChannelID: channelID,
		Role:      "assistant",
		Content:   text,
		CreatedAt: NowUnix(),
	})
}

func (a *AsyncLogger) enqueue(msg ConversationMessage) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("conversation logger closed, message dropped", "channel_id", string(msg.ChannelID))
		return
	}
	select {
	case a.queue <- msg:
	default:
		a.logger.Warn("conversation log queue full, message dropped", "channel_id", string(msg.ChannelID))
	}
}

// Close stops accepting messages and waits for queued writes to finish.
func (a *AsyncLogger) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}

// HistoryFromMessages converts persisted conversation messages into LLM
// history, attributing user messages the same way live turns do.
func HistoryFromMessages(msgs []ConversationMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case "user":
			text := m.Content
			if m.SenderName != "" {
				text = formatUserMessage(m.SenderName, m.Content)
			}
			out = append(out, UserMessage(text))
		case "assistant":
			out = append(out, AssistantMessage(m.Content))
		}
	}
	return out
}

var _ ConversationLogger = (*AsyncLogger)(nil)
