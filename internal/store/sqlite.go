package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"github.com/evanwzhao/relay/backend/internal/model/chat"
)

// SQLiteStore persists conversations and messages in a single SQLite file.
// Timestamps are stored as unix nanoseconds so creation-order comparisons are
// exact integer comparisons.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	is_shared  INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id),
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	parts      TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
`

// NewSQLiteStore opens the database at dsn and ensures the schema exists.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateChat(ctx context.Context, userID, title, id string) (chat.Conversation, error) {
	if id == "" {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	// Insert-if-absent keeps create idempotent for client-generated ids. A
	// concurrent first-turn race loses at most the duplicate insert attempt.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chats(id, user_id, title, is_shared, created_at, updated_at)
		 VALUES(?, ?, ?, 0, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id, userID, title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return chat.Conversation{}, err
	}

	return s.GetChat(ctx, id)
}

func (s *SQLiteStore) GetChat(ctx context.Context, chatID string) (chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, is_shared, created_at, updated_at FROM chats WHERE id = ?`, chatID)
	return scanConversation(row)
}

func (s *SQLiteStore) ListChatsByUser(ctx context.Context, userID string) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, is_shared, created_at, updated_at
		 FROM chats WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if _, err := s.GetChat(ctx, msg.ChatID); err != nil {
		return chat.Message{}, err
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var parts any
	if len(msg.Parts) > 0 {
		raw, err := json.Marshal(msg.Parts)
		if err != nil {
			return chat.Message{}, fmt.Errorf("encode parts: %w", err)
		}
		parts = string(raw)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, chat_id, role, content, parts, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.Role, msg.Content, parts, msg.CreatedAt.UnixNano())
	if err != nil {
		return chat.Message{}, err
	}

	if err := s.touchChat(ctx, msg.ChatID); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatID string) ([]chat.Message, error) {
	if _, err := s.GetChat(ctx, chatID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, parts, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg   chat.Message
			parts sql.NullString
			ts    int64
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Role, &msg.Content, &parts, &ts); err != nil {
			return nil, err
		}
		if parts.Valid && parts.String != "" {
			if err := json.Unmarshal([]byte(parts.String), &msg.Parts); err != nil {
				return nil, fmt.Errorf("decode parts for message %s: %w", msg.ID, err)
			}
		}
		msg.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteMessagesFrom(ctx context.Context, chatID, messageID string) error {
	var ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM messages WHERE id = ? AND chat_id = ?`, messageID, chatID).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ? AND created_at >= ?`, chatID, ts); err != nil {
		return err
	}
	return s.touchChat(ctx, chatID)
}

func (s *SQLiteStore) SetShared(ctx context.Context, chatID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET is_shared = 1 WHERE id = ?`, chatID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, chatID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) touchChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now().UTC().UnixNano(), chatID)
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (chat.Conversation, error) {
	var (
		conv      chat.Conversation
		shared    int
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &shared, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, err
	}
	conv.IsShared = shared != 0
	conv.CreatedAt = time.Unix(0, createdAt).UTC()
	conv.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return conv, nil
}
