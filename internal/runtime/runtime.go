// Package runtime connects messaging adapters to channels: one channel per
// conversation, created on first contact and fed every later message.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nevindra/tandem"
)

const responseBuffer = 64

// Option configures a Runtime.
type Option func(*Runtime)

// WithMessengers adds messaging adapters.
func WithMessengers(m ...tandem.Messenger) Option {
	return func(r *Runtime) { r.messengers = append(r.messengers, m...) }
}

// WithStore seeds new channels with up to limit persisted messages.
func WithStore(s tandem.MessageStore, limit int) Option {
	return func(r *Runtime) {
		r.store = s
		r.historyLimit = limit
	}
}

// WithChannelSettings sets the configuration of every channel.
func WithChannelSettings(cfg tandem.ChannelConfig) Option {
	return func(r *Runtime) { r.settings = cfg }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// Runtime routes inbound messages to per-conversation channels and forwards
// their responses back through the messenger the conversation came from.
type Runtime struct {
	deps         tandem.AgentDeps
	settings     tandem.ChannelConfig
	messengers   []tandem.Messenger
	store        tandem.MessageStore
	historyLimit int
	logger       *slog.Logger

	mu    sync.Mutex
	convs map[string]*conversation
	wg    sync.WaitGroup
}

// conversation is one live channel plus the message its replies target.
type conversation struct {
	channel   *tandem.Channel
	messenger tandem.Messenger
	responses chan tandem.OutboundResponse

	mu     sync.Mutex
	target tandem.InboundMessage
}

func (c *conversation) setTarget(msg tandem.InboundMessage) {
	c.mu.Lock()
	c.target = msg
	c.mu.Unlock()
}

func (c *conversation) currentTarget() tandem.InboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// New creates a Runtime for one agent.
func New(deps tandem.AgentDeps, opts ...Option) *Runtime {
	r := &Runtime{
		deps:     deps,
		settings: tandem.DefaultChannelConfig(),
		convs:    make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.deps.Logger == nil {
		r.deps.Logger = r.logger
	}
	return r
}

// Run starts every messenger and serves until ctx is cancelled or all
// inbound feeds close, then waits for channels and forwarders to stop.
func (r *Runtime) Run(ctx context.Context) error {
	if len(r.messengers) == 0 {
		return errors.New("runtime: no messengers configured")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var feeds sync.WaitGroup
	for _, m := range r.messengers {
		feed, err := m.Start(ctx)
		if err != nil {
			cancel()
			r.wg.Wait()
			return fmt.Errorf("runtime: start %s: %w", m.Name(), err)
		}
		r.logger.Info("messenger started", "messenger", m.Name())
		feeds.Add(1)
		go func() {
			defer feeds.Done()
			for msg := range feed {
				if err := r.Dispatch(ctx, m, msg); err != nil && ctx.Err() == nil {
					r.logger.Error("dispatch failed", "messenger", m.Name(),
						"conversation_id", msg.ConversationID, "error", err)
				}
			}
		}()
	}

	feeds.Wait()
	r.logger.Info("all inbound feeds closed, shutting down")
	r.shutdown()
	cancel()
	r.wg.Wait()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// RunWithSignal runs until SIGINT or SIGTERM.
func (r *Runtime) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.Run(ctx)
}

// Dispatch routes msg to its conversation's channel, creating the channel
// on first contact. msg becomes the target of subsequent replies.
func (r *Runtime) Dispatch(ctx context.Context, m tandem.Messenger, msg tandem.InboundMessage) error {
	if msg.ConversationID == "" {
		return errors.New("message has no conversation id")
	}
	conv, err := r.conversation(ctx, m, msg.ConversationID)
	if err != nil {
		return err
	}
	conv.setTarget(msg)
	return conv.channel.Submit(ctx, msg)
}

// Conversations returns the number of live channels.
func (r *Runtime) Conversations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.convs)
}

func (r *Runtime) conversation(ctx context.Context, m tandem.Messenger, id string) (*conversation, error) {
	r.mu.Lock()
	c, ok := r.convs[id]
	r.mu.Unlock()
	if ok {
		return c, nil
	}

	// The store read happens unlocked so a slow database only delays this
	// conversation.
	channelID := tandem.ChannelID(id)
	history := r.loadHistory(ctx, channelID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[id]; ok {
		return c, nil
	}

	opts := []tandem.ChannelOption{tandem.ChannelSettings(r.settings)}
	if len(history) > 0 {
		opts = append(opts, tandem.ChannelHistory(history...))
	}

	responses := make(chan tandem.OutboundResponse, responseBuffer)
	ch, err := tandem.NewChannel(channelID, r.deps, responses, opts...)
	if err != nil {
		return nil, fmt.Errorf("create channel %s: %w", id, err)
	}
	conv := &conversation{channel: ch, messenger: m, responses: responses}
	r.convs[id] = conv

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		if err := ch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("channel stopped with error", "channel_id", id, "error", err)
		}
	}()
	go func() {
		defer r.wg.Done()
		r.forward(ctx, conv)
	}()

	r.logger.Info("channel created", "channel_id", id, "messenger", m.Name())
	return conv, nil
}

func (r *Runtime) loadHistory(ctx context.Context, id tandem.ChannelID) []tandem.ChatMessage {
	if r.store == nil || r.historyLimit <= 0 {
		return nil
	}
	msgs, err := r.store.LoadMessages(ctx, id, r.historyLimit)
	if err != nil {
		r.logger.Warn("failed to load conversation history", "channel_id", string(id), "error", err)
		return nil
	}
	return tandem.HistoryFromMessages(msgs)
}

// forward delivers responses in order. It outlives the channel loop long
// enough to flush what is already buffered.
func (r *Runtime) forward(ctx context.Context, conv *conversation) {
	deliver := func(resp tandem.OutboundResponse) {
		target := conv.currentTarget()
		if err := conv.messenger.Respond(context.WithoutCancel(ctx), target, resp); err != nil {
			r.logger.Warn("failed to deliver response", "messenger", conv.messenger.Name(),
				"channel_id", string(conv.channel.ID()), "kind", resp.Kind.String(), "error", err)
		}
	}
	for {
		select {
		case resp := <-conv.responses:
			deliver(resp)
		case <-conv.channel.Done():
			for {
				select {
				case resp := <-conv.responses:
					deliver(resp)
				default:
					return
				}
			}
		}
	}
}

func (r *Runtime) shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.convs {
		c.channel.Close()
	}
}
