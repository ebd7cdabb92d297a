// Package telegram implements tandem.Messenger over the Telegram Bot API
// using long polling.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nevindra/tandem"
)

const (
	maxMessageLength = 4096
	defaultAPIBase   = "https://api.telegram.org"
	pollTimeout      = 30
)

// Option configures a Bot.
type Option func(*Bot)

// WithAPIBase overrides the Bot API host (tests, local Bot API servers).
func WithAPIBase(base string) Option {
	return func(b *Bot) { b.apiBase = strings.TrimRight(base, "/") }
}

// WithAllowedUsers restricts inbound messages to the given user ids.
// Empty means everyone.
func WithAllowedUsers(ids []int64) Option {
	return func(b *Bot) { b.allowed = ids }
}

// WithHTTPClient sets the HTTP client. Its timeout must exceed the 30s poll.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Bot) { b.http = c }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) { b.logger = l }
}

// Bot is a Telegram messenger.
type Bot struct {
	token   string
	apiBase string
	allowed []int64
	http    *http.Client
	logger  *slog.Logger
}

var _ tandem.Messenger = (*Bot)(nil)

// New creates a Bot for token.
func New(token string, opts ...Option) *Bot {
	b := &Bot{
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: (pollTimeout + 15) * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

func (b *Bot) Name() string { return "telegram" }

// Start begins long polling. The returned feed closes when ctx is cancelled.
func (b *Bot) Start(ctx context.Context) (<-chan tandem.InboundMessage, error) {
	if b.token == "" {
		return nil, errors.New("telegram: empty bot token")
	}
	ch := make(chan tandem.InboundMessage)
	go b.poll(ctx, ch)
	return ch, nil
}

func (b *Bot) poll(ctx context.Context, ch chan<- tandem.InboundMessage) {
	defer close(ch)
	var offset int64
	for ctx.Err() == nil {
		var updates []update
		err := b.call(ctx, "getUpdates", map[string]any{
			"offset":          offset,
			"timeout":         pollTimeout,
			"allowed_updates": []string{"message"},
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Warn("telegram: poll failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.From == nil || u.Message.From.IsBot {
				continue
			}
			if len(b.allowed) > 0 && !slices.Contains(b.allowed, u.Message.From.ID) {
				b.logger.Debug("telegram: ignoring message from unlisted user", "user_id", u.Message.From.ID)
				continue
			}
			select {
			case ch <- b.inbound(ctx, u.Message):
			case <-ctx.Done():
				return
			}
		}
	}
}

// inbound converts a Telegram message. File ids are resolved to download
// URLs so the attachment resolver can fetch them over plain HTTP.
func (b *Bot) inbound(ctx context.Context, m *message) tandem.InboundMessage {
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	name := m.From.FirstName
	if name == "" {
		name = m.From.Username
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}

	var attachments []tandem.Attachment
	if len(m.Photo) > 0 {
		largest := m.Photo[len(m.Photo)-1]
		attachments = b.appendFile(ctx, attachments, largest.FileID, "photo.jpg", "image/jpeg", largest.FileSize)
	}
	if d := m.Document; d != nil {
		name := d.FileName
		if name == "" {
			name = "file"
		}
		mime := d.MimeType
		if mime == "" {
			mime = "application/octet-stream"
		}
		attachments = b.appendFile(ctx, attachments, d.FileID, name, mime, d.FileSize)
	}

	ts := time.Now()
	if m.Date > 0 {
		ts = time.Unix(m.Date, 0)
	}
	return tandem.InboundMessage{
		ID:             strconv.FormatInt(m.MessageID, 10),
		Source:         b.Name(),
		ConversationID: "telegram:" + chatID,
		SenderID:       strconv.FormatInt(m.From.ID, 10),
		Content:        tandem.MessageContent{Text: text, Attachments: attachments},
		Timestamp:      ts,
		Metadata: map[string]any{
			tandem.MetaSenderDisplayName: name,
			tandem.MetaTelegramChatID:    chatID,
			tandem.MetaTelegramMessageID: strconv.FormatInt(m.MessageID, 10),
		},
	}
}

func (b *Bot) appendFile(ctx context.Context, out []tandem.Attachment, fileID, name, mime string, size int64) []tandem.Attachment {
	var f file
	if err := b.call(ctx, "getFile", map[string]any{"file_id": fileID}, &f); err != nil || f.FilePath == "" {
		b.logger.Warn("telegram: could not resolve file", "file_id", fileID, "error", err)
		return append(out, tandem.Attachment{Filename: name, MimeType: mime, Size: size})
	}
	return append(out, tandem.Attachment{
		Filename: name,
		MimeType: mime,
		URL:      fmt.Sprintf("%s/file/bot%s/%s", b.apiBase, b.token, f.FilePath),
		Size:     size,
	})
}

// Respond delivers resp to the chat target came from. Thread replies are
// sent as replies to the triggering message; stream frames and statuses
// other than Thinking are ignored.
func (b *Bot) Respond(ctx context.Context, target tandem.InboundMessage, resp tandem.OutboundResponse) error {
	chatID := target.MetaString(tandem.MetaTelegramChatID)
	if chatID == "" {
		return fmt.Errorf("telegram: message %s has no chat id", target.ID)
	}
	switch resp.Kind {
	case tandem.ResponseText:
		return b.send(ctx, chatID, resp.Text, 0)
	case tandem.ResponseThreadReply:
		replyTo, _ := strconv.ParseInt(target.MetaString(tandem.MetaTelegramMessageID), 10, 64)
		return b.send(ctx, chatID, resp.Text, replyTo)
	case tandem.ResponseStatus:
		if resp.Status.Kind == tandem.StatusThinking {
			return b.call(ctx, "sendChatAction", map[string]any{"chat_id": chatID, "action": "typing"}, nil)
		}
	}
	return nil
}

// send posts text as HTML, chunked to Telegram's limit, falling back to plain
// text for any chunk the HTML parser rejects.
func (b *Bot) send(ctx context.Context, chatID, text string, replyTo int64) error {
	for _, chunk := range splitMessage(text) {
		body := map[string]any{
			"chat_id":    chatID,
			"text":       MarkdownToHTML(chunk),
			"parse_mode": "HTML",
		}
		if replyTo != 0 {
			body["reply_parameters"] = map[string]any{"message_id": replyTo, "allow_sending_without_reply": true}
		}
		err := b.call(ctx, "sendMessage", body, nil)
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "can't parse entities") {
			b.logger.Debug("telegram: HTML rejected, sending plain text", "chat_id", chatID)
			body["text"] = chunk
			delete(body, "parse_mode")
			err = b.call(ctx, "sendMessage", body, nil)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// APIError is a Bot API error reply.
type APIError struct {
	Code        int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram API error %d: %s", e.Code, e.Description)
}

func (b *Bot) call(ctx context.Context, method string, reqBody, result any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("telegram: marshal request: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", b.apiBase, b.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read response: %w", err)
	}

	var env response[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("telegram: decode response: %w (body: %s)", err, raw)
	}
	if !env.OK {
		return &APIError{Code: env.ErrorCode, Description: env.Description}
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

// splitMessage splits text into chunks within Telegram's length limit,
// preferring line boundaries.
func splitMessage(text string) []string {
	var chunks []string
	for len(text) > maxMessageLength {
		cut := strings.LastIndex(text[:maxMessageLength], "\n")
		if cut <= 0 {
			cut = maxMessageLength
		} else {
			cut++
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
