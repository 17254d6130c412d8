package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatmodel "github.com/evanwzhao/relay/backend/internal/model/chat"
	"github.com/evanwzhao/relay/backend/internal/model/user"
	"github.com/evanwzhao/relay/backend/internal/service/attachment"
	chatservice "github.com/evanwzhao/relay/backend/internal/service/chat"
	"github.com/evanwzhao/relay/backend/internal/service/memory"
	"github.com/evanwzhao/relay/backend/internal/store"
)

type fakeGenerator struct {
	mu          sync.Mutex
	chunks      []string
	streamErr   error
	lastSystem  string
	lastHistory []*schema.Message
	title       string
}

func (g *fakeGenerator) Stream(_ context.Context, system string, history []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
	g.mu.Lock()
	g.lastSystem = system
	g.lastHistory = history
	chunks := g.chunks
	err := g.streamErr
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			sw.Send(schema.AssistantMessage(c, nil), nil)
		}
	}()
	return sr, nil
}

func (g *fakeGenerator) GenerateTitle(context.Context, []chatmodel.Message) string {
	return g.title
}

func (g *fakeGenerator) system() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastSystem
}

func (g *fakeGenerator) history() []*schema.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastHistory
}

type fakeMemory struct {
	added    chan []memory.Message
	snippets []memory.Snippet
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{added: make(chan []memory.Message, 4)}
}

func (m *fakeMemory) Add(_ context.Context, msgs []memory.Message, _ string) error {
	m.added <- msgs
	return nil
}

func (m *fakeMemory) Search(context.Context, string, string) []memory.Snippet {
	return m.snippets
}

type fakeResolver struct {
	parts []chatmodel.Part
}

func (r *fakeResolver) ProcessAll(_ context.Context, atts []attachment.Attachment) []chatmodel.Part {
	if len(atts) == 0 {
		return nil
	}
	return r.parts
}

type fixture struct {
	store     *store.MemoryStore
	generator *fakeGenerator
	memory    *fakeMemory
	resolver  *fakeResolver
	svc       *chatservice.Service
}

func newFixture() *fixture {
	f := &fixture{
		store:     store.NewMemoryStore(),
		generator: &fakeGenerator{chunks: []string{"Hel", "lo there"}},
		memory:    newFakeMemory(),
		resolver:  &fakeResolver{},
	}
	f.svc = chatservice.NewService(f.store, f.memory, f.resolver, f.generator)
	return f
}

func collectDeltas(deltas *[]string) func(string) error {
	return func(d string) error {
		*deltas = append(*deltas, d)
		return nil
	}
}

func alice() user.Profile {
	return user.Profile{UserID: "alice", FirstName: "Alice", LastName: "Liddell", Email: "alice@example.com"}
}

func TestSubmitTurnCreatesConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	var deltas []string
	result, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Hello"}},
		User:     alice(),
	}, collectDeltas(&deltas))
	require.NoError(t, err)

	assert.Equal(t, []string{"Hel", "lo there"}, deltas)
	assert.True(t, result.Created)
	assert.Equal(t, "Hello there", result.AssistantMessage.Content)

	conv, err := f.store.GetChat(ctx, result.ChatID)
	require.NoError(t, err)
	assert.Equal(t, "Hello", conv.Title)
	assert.Equal(t, "alice", conv.UserID)

	msgs, err := f.store.ListMessages(ctx, result.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, chatmodel.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, chatmodel.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hello there", msgs[1].Content)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
}

func TestSubmitTurnTitleTruncated(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	long := strings.Repeat("a", 80)
	result, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: long}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)

	conv, err := f.store.GetChat(ctx, result.ChatID)
	require.NoError(t, err)
	assert.Len(t, conv.Title, 50)
}

func TestSubmitTurnTitleTruncatedOnRuneBoundary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	long := strings.Repeat("你好啊", 26)
	result, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: long}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)

	conv, err := f.store.GetChat(ctx, result.ChatID)
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(conv.Title))
	assert.Len(t, []rune(conv.Title), 50)
	assert.True(t, strings.HasPrefix(long, conv.Title))
}

func TestSubmitTurnAdoptsClientID(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	result, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		ChatID:   "client-made-id",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Hello"}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, "client-made-id", result.ChatID)
	assert.True(t, result.Created)

	// resubmitting against the now-existing id is not a create
	result2, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		ChatID:   "client-made-id",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Again"}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)
	assert.False(t, result2.Created)
}

func TestSubmitTurnRejectsForeignConversation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.store.CreateChat(ctx, "bob", "Bob's chat", "bobs-chat")
	require.NoError(t, err)

	_, err = f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		ChatID:   "bobs-chat",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "hi"}},
		User:     alice(),
	}, func(string) error { return nil })
	assert.ErrorIs(t, err, chatservice.ErrForbidden)
}

func TestSubmitTurnEmptyMessages(t *testing.T) {
	f := newFixture()
	_, err := f.svc.SubmitTurn(context.Background(), chatservice.TurnRequest{User: alice()}, func(string) error { return nil })
	assert.ErrorIs(t, err, chatservice.ErrEmptyMessages)
}

func TestSubmitTurnInjectsMemoriesAndProfile(t *testing.T) {
	f := newFixture()
	f.memory.snippets = []memory.Snippet{{Memory: "User prefers Go"}, {Memory: "User lives in Lisbon"}}

	_, err := f.svc.SubmitTurn(context.Background(), chatservice.TurnRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Hello"}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)

	system := f.generator.system()
	assert.Contains(t, system, "User prefers Go\nUser lives in Lisbon")
	assert.Contains(t, system, "Alice")
	assert.Contains(t, system, "alice@example.com")
}

func TestSubmitTurnIndexesHistoryDetached(t *testing.T) {
	f := newFixture()

	_, err := f.svc.SubmitTurn(context.Background(), chatservice.TurnRequest{
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "I live in Lisbon"}},
		User:     alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)

	select {
	case indexed := <-f.memory.added:
		require.Len(t, indexed, 1)
		assert.Equal(t, "I live in Lisbon", indexed[0].Content)
	case <-time.After(2 * time.Second):
		t.Fatal("memory indexing was never invoked")
	}
}

func TestSubmitTurnInlinesAttachmentUnits(t *testing.T) {
	f := newFixture()
	f.resolver.parts = []chatmodel.Part{chatmodel.TextPart{Text: "[PDF Content: report.pdf (3 pages)]\n\nquarterly numbers"}}

	_, err := f.svc.SubmitTurn(context.Background(), chatservice.TurnRequest{
		Messages: []chatmodel.Message{{
			Role:    chatmodel.RoleUser,
			Content: "Summarize this",
			Parts: chatmodel.Parts{
				chatmodel.FilePart{URL: "https://example.com/report.pdf", MediaType: "application/pdf", Name: "report.pdf"},
			},
		}},
		User: alice(),
	}, func(string) error { return nil })
	require.NoError(t, err)

	history := f.generator.history()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.Contains(t, last.Content, "Summarize this")
	assert.Contains(t, last.Content, "quarterly numbers")
}

func TestSubmitTurnAbortsWhenClientGone(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	clientGone := errors.New("client disconnected")
	calls := 0
	_, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		ChatID:   "abandoned",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Hello"}},
		User:     alice(),
	}, func(string) error {
		calls++
		return clientGone
	})
	require.ErrorIs(t, err, clientGone)
	assert.Equal(t, 1, calls)

	// user turn persisted, no assistant turn: valid resumable state
	msgs, err := f.store.ListMessages(ctx, "abandoned")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatmodel.RoleUser, msgs[0].Role)
}

func TestSubmitTurnGenerationFailureKeepsUserTurn(t *testing.T) {
	f := newFixture()
	f.generator.streamErr = errors.New("model unavailable")
	ctx := context.Background()

	_, err := f.svc.SubmitTurn(ctx, chatservice.TurnRequest{
		ChatID:   "failed-gen",
		Messages: []chatmodel.Message{{Role: chatmodel.RoleUser, Content: "Hello"}},
		User:     alice(),
	}, func(string) error { return nil })
	require.Error(t, err)

	msgs, listErr := f.store.ListMessages(ctx, "failed-gen")
	require.NoError(t, listErr)
	require.Len(t, msgs, 1)
	assert.Equal(t, chatmodel.RoleUser, msgs[0].Role)
}

func seedConversation(t *testing.T, f *fixture, contents ...string) (string, []chatmodel.Message) {
	t.Helper()
	ctx := context.Background()
	conv, err := f.store.CreateChat(ctx, "alice", "seeded", "")
	require.NoError(t, err)

	var msgs []chatmodel.Message
	for i, content := range contents {
		role := chatmodel.RoleUser
		if i%2 == 1 {
			role = chatmodel.RoleAssistant
		}
		m, err := f.store.SaveMessage(ctx, chatmodel.Message{ChatID: conv.ID, Role: role, Content: content})
		require.NoError(t, err)
		msgs = append(msgs, m)
	}
	return conv.ID, msgs
}

func TestRegenerateReplacesAssistantTurn(t *testing.T) {
	f := newFixture()
	f.generator.chunks = []string{"a better answer"}
	ctx := context.Background()

	chatID, seeded := seedConversation(t, f, "question", "first answer")

	result, err := f.svc.Regenerate(ctx, chatID, seeded[1].ID, alice(), func(string) error { return nil })
	require.NoError(t, err)
	assert.Nil(t, result.UserMessage)

	msgs, err := f.store.ListMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	// preserved user turn, not duplicated
	assert.Equal(t, seeded[0].ID, msgs[0].ID)
	assert.Equal(t, chatmodel.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "a better answer", msgs[1].Content)
	assert.NotEqual(t, seeded[1].ID, msgs[1].ID)
}

func TestRegenerateDiscardsLaterTurns(t *testing.T) {
	f := newFixture()
	f.generator.chunks = []string{"regenerated"}
	ctx := context.Background()

	chatID, seeded := seedConversation(t, f, "q1", "a1", "q2", "a2")

	_, err := f.svc.Regenerate(ctx, chatID, seeded[1].ID, alice(), func(string) error { return nil })
	require.NoError(t, err)

	msgs, err := f.store.ListMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q1", msgs[0].Content)
	assert.Equal(t, "regenerated", msgs[1].Content)
}

func TestRegenerateRejectsUserTurn(t *testing.T) {
	f := newFixture()
	chatID, seeded := seedConversation(t, f, "question", "answer")

	_, err := f.svc.Regenerate(context.Background(), chatID, seeded[0].ID, alice(), func(string) error { return nil })
	assert.ErrorIs(t, err, chatservice.ErrNotAssistantTurn)
}

func TestEditTurnTruncatesAndResubmits(t *testing.T) {
	f := newFixture()
	f.generator.chunks = []string{"answer to edit"}
	ctx := context.Background()

	chatID, seeded := seedConversation(t, f, "q1", "a1", "q2", "a2")

	result, err := f.svc.EditTurn(ctx, chatID, seeded[2].ID, "edited question", nil, alice(), func(string) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, result.UserMessage)

	msgs, err := f.store.ListMessages(ctx, chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].Content)
	assert.Equal(t, "a1", msgs[1].Content)
	assert.Equal(t, "edited question", msgs[2].Content)
	assert.Equal(t, "answer to edit", msgs[3].Content)
}

func TestEditTurnUnknownMessage(t *testing.T) {
	f := newFixture()
	chatID, _ := seedConversation(t, f, "q1", "a1")

	_, err := f.svc.EditTurn(context.Background(), chatID, "missing", "text", nil, alice(), func(string) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}
