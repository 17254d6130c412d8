package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evanwzhao/relay/backend/internal/model/chat"
)

// MemoryStore implements Store with in-process maps, suitable for tests and
// local development without a database file.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]chat.Conversation
	messages map[string][]chat.Message
	lastTS   time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]chat.Conversation),
		messages: make(map[string][]chat.Message),
	}
}

// now hands out strictly increasing timestamps so same-instant appends keep
// their insertion order. Callers must hold mu.
func (s *MemoryStore) now() time.Time {
	t := time.Now().UTC()
	if !t.After(s.lastTS) {
		t = s.lastTS.Add(time.Nanosecond)
	}
	s.lastTS = t
	return t
}

func (s *MemoryStore) CreateChat(_ context.Context, userID, title, id string) (chat.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if existing, ok := s.chats[id]; ok {
			return existing, nil
		}
	} else {
		id = uuid.NewString()
	}

	now := s.now()
	conv := chat.Conversation{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.chats[id] = conv
	s.messages[id] = make([]chat.Message, 0, 16)
	return conv, nil
}

func (s *MemoryStore) GetChat(_ context.Context, chatID string) (chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.chats[chatID]
	if !ok {
		return chat.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s *MemoryStore) ListChatsByUser(_ context.Context, userID string) ([]chat.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chat.Conversation
	for _, conv := range s.chats {
		if conv.UserID == userID {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) SaveMessage(_ context.Context, msg chat.Message) (chat.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.chats[msg.ChatID]
	if !ok {
		return chat.Message{}, ErrNotFound
	}

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}

	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	conv.UpdatedAt = s.now()
	s.chats[msg.ChatID] = conv
	return msg, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs, ok := s.messages[chatID]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteMessagesFrom(_ context.Context, chatID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}

	var cutoff time.Time
	found := false
	for _, m := range s.messages[chatID] {
		if m.ID == messageID {
			cutoff = m.CreatedAt
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}

	kept := s.messages[chatID][:0]
	for _, m := range s.messages[chatID] {
		if m.CreatedAt.Before(cutoff) {
			kept = append(kept, m)
		}
	}
	s.messages[chatID] = kept

	conv.UpdatedAt = s.now()
	s.chats[chatID] = conv
	return nil
}

func (s *MemoryStore) SetShared(_ context.Context, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	conv.IsShared = true
	s.chats[chatID] = conv
	return nil
}

func (s *MemoryStore) UpdateChatTitle(_ context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.chats[chatID]
	if !ok {
		return ErrNotFound
	}
	conv.Title = title
	s.chats[chatID] = conv
	return nil
}

func (s *MemoryStore) Close() error { return nil }
