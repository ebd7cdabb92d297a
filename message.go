package tandem

import "time"

// SourceSystem marks an InboundMessage synthesized by the channel itself.
const SourceSystem = "system"

// Metadata keys set by messaging adapters and read by the channel.
const (
	MetaSenderDisplayName  = "sender_display_name"
	MetaDiscordGuildName   = "discord_guild_name"
	MetaDiscordChannelName = "discord_channel_name"
	MetaDiscordChannelID   = "discord_channel_id"
	MetaDiscordMessageID   = "discord_message_id"
	MetaTelegramChatID     = "telegram_chat_id"
	MetaTelegramMessageID  = "telegram_message_id"
)

// --- Inbound ---

// InboundMessage is a message delivered to a channel, either by a messaging
// adapter or synthesized internally for retriggers (Source == SourceSystem).
type InboundMessage struct {
	ID             string
	Source         string // platform name or "system"
	ConversationID string
	SenderID       string
	AgentID        AgentID // empty = default agent
	Content        MessageContent
	Timestamp      time.Time
	Metadata       map[string]any
}

// MessageContent is plain text, or text plus media when Attachments is non-empty.
type MessageContent struct {
	Text        string
	Attachments []Attachment
}

// IsMedia reports whether the content carries attachments.
func (c MessageContent) IsMedia() bool { return len(c.Attachments) > 0 }

// Attachment describes a file attached to an inbound message.
type Attachment struct {
	Filename string
	MimeType string
	URL      string
	Size     int64 // 0 = unknown
}

// ContentPart is one resolved piece of attachment content: text or an image.
type ContentPart struct {
	Text  string
	Image *ImageData
}

// MetaString returns the string value at key, or "" if absent or not a string.
func (m InboundMessage) MetaString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata[key].(string)
	return s
}

// DisplayName returns the sender display name, falling back to SenderID.
func (m InboundMessage) DisplayName() string {
	if name := m.MetaString(MetaSenderDisplayName); name != "" {
		return name
	}
	return m.SenderID
}

// --- Outbound ---

// ResponseKind discriminates OutboundResponse variants.
type ResponseKind int

const (
	ResponseText ResponseKind = iota
	ResponseThreadReply
	ResponseStreamStart
	ResponseStreamChunk
	ResponseStreamEnd
	ResponseStatus
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseText:
		return "text"
	case ResponseThreadReply:
		return "thread_reply"
	case ResponseStreamStart:
		return "stream_start"
	case ResponseStreamChunk:
		return "stream_chunk"
	case ResponseStreamEnd:
		return "stream_end"
	case ResponseStatus:
		return "status"
	default:
		return "unknown"
	}
}

// OutboundResponse is produced by a channel and consumed by a messaging adapter.
// Text is set for Text, ThreadReply and StreamChunk; ThreadName for ThreadReply;
// Status for Status.
type OutboundResponse struct {
	Kind       ResponseKind
	Text       string
	ThreadName string
	Status     StatusUpdate
}

// StatusKind discriminates StatusUpdate variants.
type StatusKind int

const (
	StatusThinking StatusKind = iota
	StatusStopTyping
	StatusToolStarted
	StatusToolCompleted
	StatusWorkerStarted
	StatusWorkerCompleted
)

// StatusUpdate is a transient, user-visible activity signal (typing indicator,
// tool activity). Adapters may ignore kinds they cannot render.
type StatusUpdate struct {
	Kind     StatusKind
	ToolName string
	WorkerID WorkerID
	Text     string
}

// TextResponse returns a plain text response.
func TextResponse(text string) OutboundResponse {
	return OutboundResponse{Kind: ResponseText, Text: text}
}

// ThreadReplyResponse returns a response that should open a thread named name.
func ThreadReplyResponse(name, text string) OutboundResponse {
	return OutboundResponse{Kind: ResponseThreadReply, ThreadName: name, Text: text}
}

// StatusResponse wraps a StatusUpdate.
func StatusResponse(s StatusUpdate) OutboundResponse {
	return OutboundResponse{Kind: ResponseStatus, Status: s}
}
