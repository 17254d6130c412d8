package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanwzhao/relay/backend/internal/model/chat"
)

// Every Store implementation must satisfy the same contract.
func runStoreTests(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create idempotent by id", func(t *testing.T) {
		st := open(t)
		first, err := st.CreateChat(ctx, "u1", "Hello", "chat-1")
		require.NoError(t, err)

		second, err := st.CreateChat(ctx, "u1", "Different title", "chat-1")
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Hello", second.Title)

		chats, err := st.ListChatsByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Len(t, chats, 1)
	})

	t.Run("create generates id when absent", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)
		assert.NotEmpty(t, conv.ID)
	})

	t.Run("get missing returns ErrNotFound", func(t *testing.T) {
		st := open(t)
		_, err := st.GetChat(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("messages are ordered by creation time", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)

		for _, content := range []string{"one", "two", "three", "four"} {
			_, err := st.SaveMessage(ctx, chat.Message{ChatID: conv.ID, Role: chat.RoleUser, Content: content})
			require.NoError(t, err)
		}

		msgs, err := st.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 4)
		for i := 1; i < len(msgs); i++ {
			assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt),
				"message %d created before message %d", i, i-1)
		}
		assert.Equal(t, "one", msgs[0].Content)
		assert.Equal(t, "four", msgs[3].Content)
	})

	t.Run("append advances conversation update time", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)

		_, err = st.SaveMessage(ctx, chat.Message{ChatID: conv.ID, Role: chat.RoleUser, Content: "hi"})
		require.NoError(t, err)

		after, err := st.GetChat(ctx, conv.ID)
		require.NoError(t, err)
		assert.True(t, after.UpdatedAt.After(conv.UpdatedAt))
	})

	t.Run("save message preserves parts", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)

		saved, err := st.SaveMessage(ctx, chat.Message{
			ChatID: conv.ID,
			Role:   chat.RoleUser,
			Parts: chat.Parts{
				chat.TextPart{Text: "see attached"},
				chat.FilePart{URL: "https://example.com/report.pdf", MediaType: "application/pdf", Name: "report.pdf"},
			},
		})
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)

		msgs, err := st.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, saved.Parts, msgs[0].Parts)
	})

	t.Run("listByOwner most recently updated first", func(t *testing.T) {
		st := open(t)
		a, err := st.CreateChat(ctx, "u1", "A", "")
		require.NoError(t, err)
		b, err := st.CreateChat(ctx, "u1", "B", "")
		require.NoError(t, err)
		_, err = st.CreateChat(ctx, "u2", "other owner", "")
		require.NoError(t, err)

		// touch A after B was created
		_, err = st.SaveMessage(ctx, chat.Message{ChatID: a.ID, Role: chat.RoleUser, Content: "bump"})
		require.NoError(t, err)

		chats, err := st.ListChatsByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, chats, 2)
		assert.Equal(t, a.ID, chats[0].ID)
		assert.Equal(t, b.ID, chats[1].ID)
	})

	t.Run("deleteMessagesFrom removes target and everything after", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)

		var ids []string
		for _, content := range []string{"u1", "a1", "u2", "a2"} {
			m, err := st.SaveMessage(ctx, chat.Message{ChatID: conv.ID, Role: chat.RoleUser, Content: content})
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}

		require.NoError(t, st.DeleteMessagesFrom(ctx, conv.ID, ids[2]))

		msgs, err := st.ListMessages(ctx, conv.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "u1", msgs[0].Content)
		assert.Equal(t, "a1", msgs[1].Content)
	})

	t.Run("deleteMessagesFrom missing target", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)
		assert.ErrorIs(t, st.DeleteMessagesFrom(ctx, conv.ID, "missing"), ErrNotFound)
	})

	t.Run("setShared is idempotent", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "Hello", "")
		require.NoError(t, err)

		require.NoError(t, st.SetShared(ctx, conv.ID))
		require.NoError(t, st.SetShared(ctx, conv.ID))

		after, err := st.GetChat(ctx, conv.ID)
		require.NoError(t, err)
		assert.True(t, after.IsShared)
	})

	t.Run("updateChatTitle", func(t *testing.T) {
		st := open(t)
		conv, err := st.CreateChat(ctx, "u1", "New Chat", "")
		require.NoError(t, err)

		require.NoError(t, st.UpdateChatTitle(ctx, conv.ID, "Python script error"))
		after, err := st.GetChat(ctx, conv.ID)
		require.NoError(t, err)
		assert.Equal(t, "Python script error", after.Title)

		assert.ErrorIs(t, st.UpdateChatTitle(ctx, "missing", "x"), ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		st, err := NewSQLiteStore(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = st.Close() })
		return st
	})
}
