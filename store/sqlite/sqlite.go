// Package sqlite implements tandem.MessageStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nevindra/tandem"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements tandem.MessageStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ tandem.MessageStore = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			role TEXT NOT NULL,
			sender_name TEXT,
			sender_id TEXT,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_messages_channel
			ON conversation_messages(channel_id, created_at)`,
	}
	for _, ddl := range stmts {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// SaveMessage inserts or replaces a message.
func (s *Store) SaveMessage(ctx context.Context, msg tandem.ConversationMessage) error {
	start := time.Now()
	s.logger.Debug("sqlite: save message", "id", msg.ID, "channel_id", string(msg.ChannelID), "role", msg.Role)

	if msg.ID == "" {
		msg.ID = tandem.NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = time.Now().Unix()
	}
	var metaJSON *string
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		v := string(data)
		metaJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversation_messages
		 (id, channel_id, role, sender_name, sender_id, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, string(msg.ChannelID), msg.Role, msg.SenderName, msg.SenderID, msg.Content, metaJSON, msg.CreatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save message failed", "id", msg.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save message: %w", err)
	}
	s.logger.Debug("sqlite: save message ok", "id", msg.ID, "duration", time.Since(start))
	return nil
}

// LoadMessages returns the most recent messages for a channel,
// ordered chronologically (oldest first).
func (s *Store) LoadMessages(ctx context.Context, channelID tandem.ChannelID, limit int) ([]tandem.ConversationMessage, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, role, sender_name, sender_id, content, metadata, created_at
		 FROM conversation_messages
		 WHERE channel_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`,
		string(channelID), limit,
	)
	if err != nil {
		s.logger.Error("sqlite: load messages failed", "channel_id", string(channelID), "error", err)
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var messages []tandem.ConversationMessage
	for rows.Next() {
		var (
			m          tandem.ConversationMessage
			ch         string
			name, from sql.NullString
			metaJSON   sql.NullString
		)
		if err := rows.Scan(&m.ID, &ch, &m.Role, &name, &from, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ChannelID = tandem.ChannelID(ch)
		m.SenderName = name.String
		m.SenderID = from.String
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	s.logger.Debug("sqlite: load messages ok", "channel_id", string(channelID), "count", len(messages), "duration", time.Since(start))
	return messages, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
