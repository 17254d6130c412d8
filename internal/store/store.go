package store

import (
	"context"
	"errors"

	"github.com/evanwzhao/relay/backend/internal/model/chat"
)

// ErrNotFound signals plain absence of a conversation or message.
var ErrNotFound = errors.New("not found")

// Store is the durable repository of conversations and their ordered turns.
// Message ordering by CreatedAt is the canonical replay order.
type Store interface {
	// CreateChat creates a conversation. When id is supplied and a record
	// with that key already exists, the existing record is returned
	// unchanged (idempotent create). An empty id gets a generated UUID.
	CreateChat(ctx context.Context, userID, title, id string) (chat.Conversation, error)
	GetChat(ctx context.Context, chatID string) (chat.Conversation, error)
	// ListChatsByUser returns the owner's conversations, most recently
	// updated first.
	ListChatsByUser(ctx context.Context, userID string) ([]chat.Conversation, error)
	// SaveMessage appends a turn and advances the conversation's update
	// timestamp.
	SaveMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]chat.Message, error)
	// DeleteMessagesFrom removes the identified turn and every turn created
	// at or after it, then advances the conversation's update timestamp.
	DeleteMessagesFrom(ctx context.Context, chatID, messageID string) error
	SetShared(ctx context.Context, chatID string) error
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	Close() error
}
