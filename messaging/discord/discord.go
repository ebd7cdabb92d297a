// Package discord implements tandem.Messenger on the Discord gateway.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nevindra/tandem"
)

const (
	maxMessageLength = 2000
	typingInterval   = 8 * time.Second
	threadArchive    = 1440 // minutes
)

// Metadata keys beyond those shared with the channel.
const (
	metaParentChannelID = "discord_parent_channel_id"
	metaIsThread        = "discord_is_thread"
	metaGuildID         = "discord_guild_id"
)

// session is the subset of *discordgo.Session the adapter calls.
type session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	MessageThreadStart(channelID, messageID, name string, archiveDuration int, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
}

// resolver looks up guild and channel details for metadata.
type resolver interface {
	guildName(guildID string) string
	channel(channelID string) *discordgo.Channel
}

// Option configures a Bot.
type Option func(*Bot)

// WithAllowedChannels restricts guild messages to these channel ids (or
// threads under them). Empty means all channels.
func WithAllowedChannels(ids []string) Option {
	return func(b *Bot) { b.channels = ids }
}

// WithDMAllowedUsers lists users allowed to DM the bot. With none, DMs are
// ignored.
func WithDMAllowedUsers(ids []string) Option {
	return func(b *Bot) { b.dmUsers = ids }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// Bot is a Discord messenger.
type Bot struct {
	token    string
	channels []string
	dmUsers  []string
	logger   *slog.Logger

	mu     sync.Mutex
	api    session
	lookup resolver
	typing map[string]context.CancelFunc // by inbound message id
	ctx    context.Context
}

var _ tandem.Messenger = (*Bot)(nil)

// New creates a Bot for token.
func New(token string, opts ...Option) *Bot {
	b := &Bot{token: token, typing: make(map[string]context.CancelFunc), ctx: context.Background()}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

func (b *Bot) Name() string { return "discord" }

// Start opens the gateway connection. The feed closes and the session is
// closed when ctx is cancelled.
func (b *Bot) Start(ctx context.Context) (<-chan tandem.InboundMessage, error) {
	if b.token == "" {
		return nil, errors.New("discord: empty bot token")
	}
	s, err := discordgo.New("Bot " + b.token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	ch := make(chan tandem.InboundMessage, 64)
	var closing sync.RWMutex
	closed := false

	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("discord connected", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		msg, ok := b.inbound(m.Message)
		if !ok {
			return
		}
		closing.RLock()
		defer closing.RUnlock()
		if closed {
			return
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	})

	if err := s.Open(); err != nil {
		return nil, fmt.Errorf("discord: open gateway: %w", err)
	}

	b.mu.Lock()
	b.api = s
	b.lookup = sessionResolver{s}
	b.ctx = ctx
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.stopAllTyping()
		if err := s.Close(); err != nil {
			b.logger.Warn("discord: close session", "error", err)
		}
		closing.Lock()
		closed = true
		close(ch)
		closing.Unlock()
	}()
	return ch, nil
}

// inbound filters and converts a gateway message.
func (b *Bot) inbound(m *discordgo.Message) (tandem.InboundMessage, bool) {
	if m.Author == nil || m.Author.Bot {
		return tandem.InboundMessage{}, false
	}
	if m.GuildID == "" && !slices.Contains(b.dmUsers, m.Author.ID) {
		return tandem.InboundMessage{}, false
	}

	b.mu.Lock()
	lookup := b.lookup
	b.mu.Unlock()
	meta := buildMetadata(m, lookup)

	if m.GuildID != "" && len(b.channels) > 0 {
		parent, _ := meta[metaParentChannelID].(string)
		if !slices.Contains(b.channels, m.ChannelID) && (parent == "" || !slices.Contains(b.channels, parent)) {
			return tandem.InboundMessage{}, false
		}
	}

	content := tandem.MessageContent{Text: m.Content}
	for _, a := range m.Attachments {
		content.Attachments = append(content.Attachments, tandem.Attachment{
			Filename: a.Filename,
			MimeType: a.ContentType,
			URL:      a.URL,
			Size:     int64(a.Size),
		})
	}

	return tandem.InboundMessage{
		ID:             m.ID,
		Source:         b.Name(),
		ConversationID: conversationID(m),
		SenderID:       m.Author.ID,
		Content:        content,
		Timestamp:      m.Timestamp,
		Metadata:       meta,
	}, true
}

func conversationID(m *discordgo.Message) string {
	if m.GuildID == "" {
		return "discord:dm:" + m.Author.ID
	}
	return fmt.Sprintf("discord:%s:%s", m.GuildID, m.ChannelID)
}

// buildMetadata records routing ids and, when a resolver is available, the
// guild and channel names and thread parent.
func buildMetadata(m *discordgo.Message, lookup resolver) map[string]any {
	meta := map[string]any{
		tandem.MetaDiscordChannelID:  m.ChannelID,
		tandem.MetaDiscordMessageID:  m.ID,
		tandem.MetaSenderDisplayName: displayName(m),
	}
	if m.GuildID == "" {
		return meta
	}
	meta[metaGuildID] = m.GuildID
	if lookup == nil {
		return meta
	}
	if name := lookup.guildName(m.GuildID); name != "" {
		meta[tandem.MetaDiscordGuildName] = name
	}
	if c := lookup.channel(m.ChannelID); c != nil {
		meta[tandem.MetaDiscordChannelName] = c.Name
		if isThread(c) {
			meta[metaIsThread] = true
			if c.ParentID != "" {
				meta[metaParentChannelID] = c.ParentID
			}
		}
	}
	return meta
}

// displayName prefers the guild nickname, then the global name, then the username.
func displayName(m *discordgo.Message) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}

func isThread(c *discordgo.Channel) bool {
	switch c.Type {
	case discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread, discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

// Respond delivers resp to the channel target came from.
func (b *Bot) Respond(ctx context.Context, target tandem.InboundMessage, resp tandem.OutboundResponse) error {
	b.mu.Lock()
	api := b.api
	b.mu.Unlock()
	if api == nil {
		return errors.New("discord: not connected")
	}
	channelID := target.MetaString(tandem.MetaDiscordChannelID)
	if channelID == "" {
		return fmt.Errorf("discord: message %s has no channel id", target.ID)
	}

	switch resp.Kind {
	case tandem.ResponseText:
		b.stopTyping(target.ID)
		return sendChunks(api, channelID, resp.Text)

	case tandem.ResponseThreadReply:
		b.stopTyping(target.ID)
		if msgID := target.MetaString(tandem.MetaDiscordMessageID); msgID != "" {
			thread, err := api.MessageThreadStart(channelID, msgID, threadName(resp.ThreadName), threadArchive)
			if err == nil {
				return sendChunks(api, thread.ID, resp.Text)
			}
			b.logger.Warn("discord: thread creation failed, replying in channel",
				"thread_name", resp.ThreadName, "error", err)
		}
		return sendChunks(api, channelID, resp.Text)

	case tandem.ResponseStatus:
		switch resp.Status.Kind {
		case tandem.StatusThinking:
			b.startTyping(api, target.ID, channelID)
		case tandem.StatusStopTyping:
			b.stopTyping(target.ID)
		}
	}
	return nil
}

func sendChunks(api session, channelID, text string) error {
	for _, chunk := range splitMessage(text, maxMessageLength) {
		if _, err := api.ChannelMessageSend(channelID, chunk); err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// startTyping refreshes the typing indicator until stopped; Discord expires
// it after about ten seconds.
func (b *Bot) startTyping(api session, msgID, channelID string) {
	b.mu.Lock()
	if _, ok := b.typing[msgID]; ok {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(b.ctx)
	b.typing[msgID] = cancel
	b.mu.Unlock()

	go func() {
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := api.ChannelTyping(channelID); err != nil {
				b.logger.Debug("discord: typing indicator failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (b *Bot) stopTyping(msgID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.typing[msgID]; ok {
		cancel()
		delete(b.typing, msgID)
	}
}

func (b *Bot) stopAllTyping() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, cancel := range b.typing {
		cancel()
		delete(b.typing, id)
	}
}

// threadName clamps names to Discord's 100 character limit.
func threadName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Thread"
	}
	if r := []rune(name); len(r) > 100 {
		name = string(r[:100])
	}
	return name
}

// splitMessage splits text into chunks of at most max bytes, preferring
// newlines, then spaces.
func splitMessage(text string, max int) []string {
	var chunks []string
	for len(text) > max {
		cut := strings.LastIndex(text[:max], "\n")
		if cut <= 0 {
			cut = strings.LastIndex(text[:max], " ")
		}
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], " \n")
	}
	return append(chunks, text)
}

// sessionResolver reads from the gateway state cache, falling back to REST.
type sessionResolver struct{ s *discordgo.Session }

func (r sessionResolver) guildName(guildID string) string {
	if g, err := r.s.State.Guild(guildID); err == nil {
		return g.Name
	}
	if g, err := r.s.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

func (r sessionResolver) channel(channelID string) *discordgo.Channel {
	if c, err := r.s.State.Channel(channelID); err == nil {
		return c
	}
	if c, err := r.s.Channel(channelID); err == nil {
		return c
	}
	return nil
}
