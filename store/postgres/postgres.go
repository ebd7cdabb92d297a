// Package postgres implements tandem.MessageStore using PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/tandem"
)

// Store implements tandem.MessageStore backed by PostgreSQL.
type Store struct {
	pool  *pgxpool.Pool
	table string
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithTable overrides the table name (default "conversation_messages").
// Useful when several agents share one database.
func WithTable(name string) Option {
	return func(s *Store) { s.table = pgx.Identifier{name}.Sanitize() }
}

var _ tandem.MessageStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, table: "conversation_messages"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the messages table and its index.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			role TEXT NOT NULL,
			sender_name TEXT NOT NULL DEFAULT '',
			sender_id TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL,
			seq BIGSERIAL
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s(channel_id, created_at)`,
			pgx.Identifier{"idx_" + trimQuotes(s.table) + "_channel"}.Sanitize(), s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// SaveMessage inserts or replaces a message.
func (s *Store) SaveMessage(ctx context.Context, msg tandem.ConversationMessage) error {
	if msg.ID == "" {
		msg.ID = tandem.NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().Unix()
	}
	var meta []byte
	if len(msg.Metadata) > 0 {
		var err error
		if meta, err = json.Marshal(msg.Metadata); err != nil {
			return fmt.Errorf("postgres: encode metadata: %w", err)
		}
	}
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, channel_id, role, sender_name, sender_id, content, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   channel_id = EXCLUDED.channel_id,
		   role = EXCLUDED.role,
		   sender_name = EXCLUDED.sender_name,
		   sender_id = EXCLUDED.sender_id,
		   content = EXCLUDED.content,
		   metadata = EXCLUDED.metadata,
		   created_at = EXCLUDED.created_at`, s.table),
		msg.ID, string(msg.ChannelID), msg.Role, msg.SenderName, msg.SenderID, msg.Content, meta, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save message: %w", err)
	}
	return nil
}

// LoadMessages returns the most recent messages for a channel,
// ordered chronologically (oldest first).
func (s *Store) LoadMessages(ctx context.Context, channelID tandem.ChannelID, limit int) ([]tandem.ConversationMessage, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, channel_id, role, sender_name, sender_id, content, metadata, created_at
		 FROM %s
		 WHERE channel_id = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2`, s.table),
		string(channelID), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: load messages: %w", err)
	}
	defer rows.Close()

	var messages []tandem.ConversationMessage
	for rows.Next() {
		var (
			m    tandem.ConversationMessage
			ch   string
			meta []byte
		)
		if err := rows.Scan(&m.ID, &ch, &m.Role, &m.SenderName, &m.SenderID, &m.Content, &meta, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		m.ChannelID = tandem.ChannelID(ch)
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &m.Metadata)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
