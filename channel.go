package tandem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// retriggerText is the synthetic system message a channel sends itself after
// a branch or worker result lands in its history.
const retriggerText = "[System: a background process has completed. Check your history and status block for the result, then respond to the user.]"

// ChannelConfig holds per-channel limits.
type ChannelConfig struct {
	MaxConcurrentBranches int
	MaxTurns              int
	ContextWindow         int
	BranchMaxTurns        int
	WorkerMaxTurns        int
	BranchTimeout         time.Duration
	WorkerTimeout         time.Duration
	WorkerIdleTimeout     time.Duration
	InboxSize             int
	Compaction            CompactionConfig
}

// DefaultChannelConfig returns the stock limits.
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		MaxConcurrentBranches: 5,
		MaxTurns:              5,
		ContextWindow:         128000,
		BranchMaxTurns:        10,
		WorkerMaxTurns:        25,
		BranchTimeout:         60 * time.Second,
		WorkerTimeout:         300 * time.Second,
		WorkerIdleTimeout:     300 * time.Second,
		InboxSize:             64,
		Compaction:            DefaultCompactionConfig(),
	}
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// ChannelSettings overrides the default limits.
func ChannelSettings(cfg ChannelConfig) ChannelOption {
	return func(c *Channel) { c.cfg = cfg }
}

// ChannelCompaction replaces the default Compactor.
func ChannelCompaction(t CompactionTrigger) ChannelOption {
	return func(c *Channel) { c.compactor = t }
}

// ChannelHistory seeds the conversation history, e.g. from a MessageStore.
func ChannelHistory(msgs ...ChatMessage) ChannelOption {
	return func(c *Channel) { c.seed = msgs }
}

// ChannelTools registers tools available on every channel turn alongside
// the per-turn channel tools.
func ChannelTools(tools ...Tool) ChannelOption {
	return func(c *Channel) { c.extraTools = append(c.extraTools, tools...) }
}

// Channel is the user-facing conversation process. One goroutine (Run)
// serializes every turn and every event it acts on.
type Channel struct {
	id         ChannelID
	deps       AgentDeps
	cfg        ChannelConfig
	state      *ChannelState
	tools      *ToolServer
	extraTools []Tool
	engine     *Engine
	hook       *Hook
	compactor  CompactionTrigger
	logger     *slog.Logger
	seed       []ChatMessage

	responses chan<- OutboundResponse
	sub       *Subscription

	inboxMu sync.RWMutex
	inbox   chan InboundMessage
	closed  bool
	stopped chan struct{}

	// Touched only by the Run goroutine.
	conversationID      string
	conversationContext string
}

// NewChannel creates a channel subscribed to deps.Bus. Responses are
// delivered on responses, which may be nil to discard them.
func NewChannel(id ChannelID, deps AgentDeps, responses chan<- OutboundResponse, opts ...ChannelOption) (*Channel, error) {
	c := &Channel{
		id:        id,
		deps:      deps,
		cfg:       DefaultChannelConfig(),
		responses: responses,
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.deps.Models.Resolve(ProcessChannel) == nil {
		return nil, errors.New("channel: no model configured")
	}
	if err := c.cfg.Compaction.Validate(); err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	if c.cfg.MaxConcurrentBranches <= 0 {
		return nil, fmt.Errorf("channel: max concurrent branches must be positive, got %d", c.cfg.MaxConcurrentBranches)
	}
	if c.cfg.InboxSize <= 0 {
		c.cfg.InboxSize = DefaultChannelConfig().InboxSize
	}
	if c.deps.Bus == nil {
		c.deps.Bus = NewEventBus(BusLogger(c.deps.logger()))
	}
	c.logger = c.deps.logger().With("channel_id", string(id))

	c.tools = NewToolServer()
	if err := c.tools.Add(c.extraTools...); err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	history := NewHistory(c.seed...)
	c.state = newChannelState(id, c.deps, c.cfg, history, responses)
	c.engine = NewEngine(c.deps.Models.Resolve(ProcessChannel),
		EngineLogger(c.logger),
		EngineTracer(c.deps.Tracer))
	c.hook = c.deps.hook(ChannelProcess(id))
	if c.compactor == nil {
		c.compactor = NewCompactor(id, c.cfg.Compaction, c.cfg.ContextWindow, history,
			c.deps.Models.ForCompaction(),
			CompactorLogger(c.logger),
			CompactorTracer(c.deps.Tracer),
			CompactorPrompt(c.deps.Prompts.Compactor))
	}
	c.inbox = make(chan InboundMessage, c.cfg.InboxSize)
	c.sub = c.deps.Bus.Subscribe()
	return c, nil
}

// ID returns the channel id.
func (c *Channel) ID() ChannelID { return c.id }

// State returns the shared channel state.
func (c *Channel) State() *ChannelState { return c.state }

// Status renders the current status block.
func (c *Channel) Status() string { return c.state.Status.Render() }

// Run is the channel event loop. It handles inbound messages and process
// events one at a time until both sources close or ctx ends. Branches and
// workers spawned by the channel are children of ctx.
func (c *Channel) Run(ctx context.Context) error {
	defer close(c.stopped)
	defer c.sub.Close()

	c.state.setContext(ctx)
	c.logger.Info("channel started")
	defer c.logger.Info("channel stopped")

	inbox := c.inbox
	events := c.sub.Events()
	for inbox != nil || events != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbox:
			if !ok {
				inbox = nil
				continue
			}
			if err := c.handleMessage(ctx, msg); err != nil {
				c.logger.Error("error handling message", "message_id", msg.ID, "error", err)
			}
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		}
	}
	return nil
}

// Submit enqueues an inbound message, blocking while the inbox is full.
func (c *Channel) Submit(ctx context.Context, msg InboundMessage) error {
	c.inboxMu.RLock()
	defer c.inboxMu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.inbox <- msg:
		return nil
	case <-c.stopped:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// trySubmit enqueues without blocking.
func (c *Channel) trySubmit(msg InboundMessage) error {
	c.inboxMu.RLock()
	defer c.inboxMu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	select {
	case c.inbox <- msg:
		return nil
	default:
		return ErrInboxFull
	}
}

// Close closes the inbox. Queued messages are still handled; Run keeps
// serving process events until the bus closes.
func (c *Channel) Close() {
	c.inboxMu.Lock()
	defer c.inboxMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbox)
	}
}

// Done is closed when Run returns.
func (c *Channel) Done() <-chan struct{} { return c.stopped }

// handleMessage runs one channel turn. Only a tool registration failure is
// returned; every other failure is logged and folded into the conversation.
func (c *Channel) handleMessage(ctx context.Context, msg InboundMessage) error {
	ctx = WithProcess(ctx, c.id, ChannelProcess(c.id))
	ctx, span := startSpan(ctx, c.deps.Tracer, "channel.turn",
		StringAttr("channel_id", string(c.id)),
		StringAttr("message_id", msg.ID),
		StringAttr("source", msg.Source))
	defer span.End()

	c.logger.Info("handling message", "message_id", msg.ID, "source", msg.Source)

	if c.conversationID == "" {
		c.conversationID = msg.ConversationID
	}

	raw := msg.Content.Text
	userText := raw
	if msg.Source != SourceSystem {
		userText = formatUserMessage(msg.DisplayName(), raw)
	}

	var parts []ContentPart
	if msg.Content.IsMedia() {
		parts = c.resolveAttachments(ctx, msg.Content.Attachments)
	}

	if msg.Source != SourceSystem && c.deps.Conversations != nil {
		c.deps.Conversations.LogUserMessage(c.id, msg.DisplayName(), msg.SenderID, raw, msg.Metadata)
	}

	if c.conversationContext == "" && msg.Source != SourceSystem {
		c.conversationContext = buildConversationContext(msg)
	}

	system := c.systemPrompt()

	if err := AddChannelTools(c.tools, c.state, c.responses, msg.ConversationID); err != nil {
		span.Error(err)
		return fmt.Errorf("add channel tools: %w", err)
	}

	c.state.trySend(StatusResponse(StatusUpdate{Kind: StatusThinking}))

	if len(parts) > 0 {
		c.state.History.Append(attachmentMessage(parts))
	}

	out, err := c.engine.Prompt(ctx, PromptRequest{
		System:   system,
		Input:    userText,
		History:  c.state.History,
		Tools:    c.tools,
		MaxTurns: c.cfg.MaxTurns,
		Hook:     c.hook,
	})

	if rerr := RemoveChannelTools(c.tools); rerr != nil {
		c.logger.Warn("failed to remove channel tools", "error", rerr)
	}

	c.finishTurn(ctx, out, err)
	if err != nil {
		span.Error(err)
	}

	if cerr := c.compactor.CheckAndCompact(ctx); cerr != nil {
		c.logger.Warn("compaction check failed", "error", cerr)
	}
	return nil
}

// finishTurn delivers plain-text output and classifies the outcome.
func (c *Channel) finishTurn(ctx context.Context, out string, err error) {
	var (
		maxTurns  *MaxTurnsError
		cancelled *PromptCancelledError
	)
	switch {
	case err == nil:
		if text := strings.TrimSpace(out); text != "" {
			if c.deps.Conversations != nil {
				c.deps.Conversations.LogBotMessage(c.id, text)
			}
			if serr := c.send(ctx, TextResponse(text)); serr != nil {
				c.logger.Error("failed to send fallback reply", "error", serr)
			}
		}
		c.logger.Debug("channel turn completed")
	case errors.As(err, &maxTurns):
		c.logger.Warn("channel hit max turns", "max_turns", maxTurns.MaxTurns)
		c.state.trySend(StatusResponse(StatusUpdate{Kind: StatusStopTyping}))
	case errors.As(err, &cancelled):
		c.logger.Info("channel turn cancelled", "reason", cancelled.Reason)
		c.state.trySend(StatusResponse(StatusUpdate{Kind: StatusStopTyping}))
	default:
		c.logger.Error("channel LLM call failed", "error", err)
		c.state.trySend(StatusResponse(StatusUpdate{Kind: StatusStopTyping}))
	}
}

// handleEvent folds a process event into the channel. Events scoped to
// other channels have no effect.
func (c *Channel) handleEvent(ev ProcessEvent) {
	if !EventIsForChannel(ev, c.id) {
		return
	}
	c.state.Status.Update(ev)

	retrigger := false
	switch e := ev.(type) {
	case BranchResultEvent:
		c.state.removeBranch(e.BranchID)
		c.state.History.Append(UserMessage("[Branch result]: " + e.Conclusion))
		retrigger = true
		c.logger.Info("branch result incorporated", "branch_id", string(e.BranchID))
	case WorkerCompleteEvent:
		c.state.removeWorker(e.WorkerID)
		c.state.trySend(StatusResponse(StatusUpdate{Kind: StatusWorkerCompleted, WorkerID: e.WorkerID}))
		if e.Notify {
			c.state.History.Append(UserMessage("[Worker completed]: " + e.Result))
			retrigger = true
		}
		c.logger.Info("worker completed", "worker_id", string(e.WorkerID), "notify", e.Notify)
	}

	if retrigger && c.conversationID != "" {
		c.retrigger()
	}
}

// retrigger nudges the channel to take another turn. A full inbox drops the
// nudge; the result is already in history.
func (c *Channel) retrigger() {
	msg := InboundMessage{
		ID:             NewID(),
		Source:         SourceSystem,
		ConversationID: c.conversationID,
		SenderID:       SourceSystem,
		Content:        MessageContent{Text: retriggerText},
		Timestamp:      time.Now(),
		Metadata:       map[string]any{},
	}
	if err := c.trySubmit(msg); err != nil {
		c.logger.Warn("failed to re-trigger channel after process completion", "error", err)
	}
}

// send delivers a response, blocking until the consumer takes it.
func (c *Channel) send(ctx context.Context, resp OutboundResponse) error {
	if c.responses == nil {
		return nil
	}
	select {
	case c.responses <- resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// systemPrompt assembles identity, channel prompt, conversation context,
// the status block, and the skill listing.
func (c *Channel) systemPrompt() string {
	var ctxSection, statusSection, skills string
	if c.conversationContext != "" {
		ctxSection = "## Conversation Context\n\n" + c.conversationContext
	}
	if status := c.state.Status.Render(); status != "" {
		statusSection = "## Current Status\n\n" + status
	}
	if c.deps.Skills != nil {
		skills = c.deps.Skills.Render()
	}
	return joinPrompt(c.deps.Prompts.Identity, c.deps.Prompts.Channel, ctxSection, statusSection, skills)
}

func (c *Channel) resolveAttachments(ctx context.Context, atts []Attachment) []ContentPart {
	if c.deps.Attachments == nil {
		parts := make([]ContentPart, 0, len(atts))
		for _, a := range atts {
			parts = append(parts, ContentPart{Text: DescribeAttachment(a)})
		}
		return parts
	}
	return c.deps.Attachments.Resolve(ctx, atts)
}

// formatUserMessage attributes text to its sender so the model can tell
// participants apart.
func formatUserMessage(displayName, text string) string {
	return "[" + displayName + "]: " + text
}

// buildConversationContext describes where the conversation takes place.
func buildConversationContext(msg InboundMessage) string {
	lines := []string{"Platform: " + msg.Source}
	if guild := msg.MetaString(MetaDiscordGuildName); guild != "" {
		lines = append(lines, "Server: "+guild)
	}
	if ch := msg.MetaString(MetaDiscordChannelName); ch != "" {
		lines = append(lines, "Channel: #"+ch)
	}
	lines = append(lines, "Multiple users may be present. Each message is prefixed with [username].")
	return strings.Join(lines, "\n")
}

// attachmentMessage turns resolved parts into one user message: text parts
// joined, images attached.
func attachmentMessage(parts []ContentPart) ChatMessage {
	var texts []string
	var images []ImageData
	for _, p := range parts {
		if p.Image != nil {
			images = append(images, *p.Image)
		}
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	msg := UserMessage(strings.Join(texts, "\n\n"))
	msg.Images = images
	if msg.Content == "" && len(images) == 0 {
		msg.Content = "[attachment processing failed]"
	}
	return msg
}

// DescribeAttachment renders metadata-only text for an attachment that is
// not downloaded.
func DescribeAttachment(a Attachment) string {
	return fmt.Sprintf("[Attachment: %s (%s, %.1f KB)]", a.Filename, a.MimeType, float64(a.Size)/1024)
}
