// Package chat coordinates a conversation turn end to end: attachment
// resolution, persistence, memory retrieval, model invocation and
// reconciliation of the streamed result back into the store.
package chat

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"

	chatmodel "github.com/evanwzhao/relay/backend/internal/model/chat"
	"github.com/evanwzhao/relay/backend/internal/model/user"
	"github.com/evanwzhao/relay/backend/internal/service/ai"
	"github.com/evanwzhao/relay/backend/internal/service/attachment"
	"github.com/evanwzhao/relay/backend/internal/service/memory"
	"github.com/evanwzhao/relay/backend/internal/store"
)

// historyWindow bounds how many recent turns reach the model.
const historyWindow = 20

// titleLimit caps titles derived from the first turn.
const titleLimit = 50

var (
	ErrEmptyMessages    = errors.New("no messages provided")
	ErrForbidden        = errors.New("conversation belongs to another user")
	ErrNotAssistantTurn = errors.New("regenerate target is not an assistant turn")
	ErrNoUserTurn       = errors.New("no user turn precedes the regenerate target")
)

// Generator produces streamed model output. Satisfied by *ai.Service.
type Generator interface {
	Stream(ctx context.Context, system string, history []*schema.Message) (*schema.StreamReader[*schema.Message], error)
	GenerateTitle(ctx context.Context, msgs []chatmodel.Message) string
}

// MemoryBridge indexes turns and retrieves snippets. Satisfied by
// *memory.Client.
type MemoryBridge interface {
	Add(ctx context.Context, msgs []memory.Message, userID string) error
	Search(ctx context.Context, query, userID string) []memory.Snippet
}

// AttachmentResolver converts attachment references into model-consumable
// parts. Satisfied by *attachment.Normalizer.
type AttachmentResolver interface {
	ProcessAll(ctx context.Context, atts []attachment.Attachment) []chatmodel.Part
}

// Service is the turn orchestrator.
type Service struct {
	store       store.Store
	memory      MemoryBridge
	attachments AttachmentResolver
	generator   Generator
}

// NewService wires the orchestrator's collaborators.
func NewService(st store.Store, mem MemoryBridge, atts AttachmentResolver, gen Generator) *Service {
	return &Service{store: st, memory: mem, attachments: atts, generator: gen}
}

// TurnRequest is one submitted user turn plus the client's view of the
// conversation so far.
type TurnRequest struct {
	ChatID   string
	Messages []chatmodel.Message
	User     user.Profile
}

// TurnResult reports what a completed turn persisted.
type TurnResult struct {
	ChatID           string
	Created          bool
	UserMessage      *chatmodel.Message
	AssistantMessage chatmodel.Message
}

// SubmitTurn runs the full per-turn protocol. Deltas are forwarded to onDelta
// as they arrive; the assistant turn is persisted only after the stream
// completes. An onDelta error (client gone) aborts the generation, leaving
// the already-persisted user turn as the conversation's last entry.
func (s *Service) SubmitTurn(ctx context.Context, req TurnRequest, onDelta func(string) error) (*TurnResult, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessages
	}

	window := lastN(req.Messages, historyWindow)
	// Title comes from the window's first turn, not the submission's; for an
	// import larger than the window that is the oldest turn kept.
	conv, created, err := s.resolveConversation(ctx, req.ChatID, req.User.UserID, deriveTitle(window[0]))
	if err != nil {
		return nil, err
	}

	trigger := window[len(window)-1]
	trigger.Role = chatmodel.RoleUser
	return s.run(ctx, conv, window, trigger, true, created, req.User, onDelta)
}

// EditTurn implements edit-and-resubmit: every turn from the edited one
// onward is discarded, then the new text runs as a fresh turn.
func (s *Service) EditTurn(ctx context.Context, chatID, messageID, text string, parts chatmodel.Parts, profile user.Profile, onDelta func(string) error) (*TurnResult, error) {
	conv, err := s.ownedConversation(ctx, chatID, profile.UserID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil, store.ErrNotFound
	}

	if err := s.store.DeleteMessagesFrom(ctx, chatID, messageID); err != nil {
		return nil, err
	}

	trigger := chatmodel.Message{
		ChatID:  chatID,
		Role:    chatmodel.RoleUser,
		Content: text,
		Parts:   parts,
	}
	window := lastN(append(msgs[:idx:idx], trigger), historyWindow)
	return s.run(ctx, conv, window, trigger, true, false, profile, onDelta)
}

// Regenerate discards an assistant turn (and everything after it) and re-runs
// generation from the preserved preceding user turn. The user turn is never
// re-persisted.
func (s *Service) Regenerate(ctx context.Context, chatID, messageID string, profile user.Profile, onDelta func(string) error) (*TurnResult, error) {
	conv, err := s.ownedConversation(ctx, chatID, profile.UserID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, err
	}
	idx := indexOf(msgs, messageID)
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	if msgs[idx].Role != chatmodel.RoleAssistant {
		return nil, ErrNotAssistantTurn
	}

	userIdx := -1
	for i := idx - 1; i >= 0; i-- {
		if msgs[i].Role == chatmodel.RoleUser {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return nil, ErrNoUserTurn
	}

	if err := s.store.DeleteMessagesFrom(ctx, chatID, messageID); err != nil {
		return nil, err
	}

	trigger := msgs[userIdx]
	window := lastN(msgs[:userIdx+1], historyWindow)
	return s.run(ctx, conv, window, trigger, false, false, profile, onDelta)
}

// run executes steps 2-7 of the per-turn protocol for an already-resolved
// conversation. persistUser is false on regenerate, where the trigger turn is
// already durable.
func (s *Service) run(ctx context.Context, conv chatmodel.Conversation, window []chatmodel.Message, trigger chatmodel.Message, persistUser, refineTitle bool, profile user.Profile, onDelta func(string) error) (*TurnResult, error) {
	units := s.attachments.ProcessAll(ctx, attachmentRefs(trigger.Parts))

	result := &TurnResult{ChatID: conv.ID, Created: refineTitle}

	if persistUser {
		saved, err := s.store.SaveMessage(ctx, chatmodel.Message{
			ChatID:  conv.ID,
			Role:    chatmodel.RoleUser,
			Content: trigger.Content,
			Parts:   trigger.Parts,
		})
		if err != nil {
			return nil, err
		}
		result.UserMessage = &saved
	}

	s.indexDetached(ctx, conv.ID, window, profile.UserID)

	var memoriesText string
	if text := trigger.Text(); text != "" {
		memoriesText = memory.JoinSnippets(s.memory.Search(ctx, text, profile.UserID))
	}

	system := ai.BuildSystemPrompt(memoriesText, profile.FirstName, profile.LastName, profile.Email)
	history := modelMessages(window, units)

	stream, err := s.generator.Stream(ctx, system, history)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	chunks := make([]*schema.Message, 0, 8)
	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return nil, recvErr
		}
		if chunk == nil {
			continue
		}

		chunks = append(chunks, chunk)
		if chunk.Content != "" {
			if err := onDelta(chunk.Content); err != nil {
				return nil, err
			}
		}
	}

	final := schema.AssistantMessage("", nil)
	if len(chunks) > 0 {
		final, err = schema.ConcatMessages(chunks)
		if err != nil {
			return nil, err
		}
	}

	assistant, err := s.store.SaveMessage(ctx, chatmodel.Message{
		ChatID:  conv.ID,
		Role:    chatmodel.RoleAssistant,
		Content: final.Content,
	})
	if err != nil {
		return nil, err
	}
	result.AssistantMessage = assistant

	if refineTitle {
		s.refineTitleDetached(ctx, conv.ID, result.UserMessage, assistant)
	}

	log.Info().Str("chat", conv.ID).Int("chars", len(final.Content)).Msg("turn completed")
	return result, nil
}

// resolveConversation implements step 1 of the protocol: create on first
// turn, or create-with-client-id when the id is unknown server-side.
func (s *Service) resolveConversation(ctx context.Context, chatID, userID, title string) (chatmodel.Conversation, bool, error) {
	if chatID == "" {
		conv, err := s.store.CreateChat(ctx, userID, title, "")
		return conv, true, err
	}

	conv, err := s.store.GetChat(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		// Client-generated id arrived before any create call completed.
		conv, err = s.store.CreateChat(ctx, userID, title, chatID)
		return conv, true, err
	}
	if err != nil {
		return chatmodel.Conversation{}, false, err
	}
	if conv.UserID != userID {
		return chatmodel.Conversation{}, false, ErrForbidden
	}
	return conv, false, nil
}

func (s *Service) ownedConversation(ctx context.Context, chatID, userID string) (chatmodel.Conversation, error) {
	conv, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return chatmodel.Conversation{}, err
	}
	if conv.UserID != userID {
		return chatmodel.Conversation{}, ErrForbidden
	}
	return conv, nil
}

// indexDetached submits the history window for memory indexing without
// awaiting the outcome. Failures are logged and never surface to the turn.
func (s *Service) indexDetached(ctx context.Context, chatID string, window []chatmodel.Message, userID string) {
	toIndex := make([]memory.Message, 0, len(window))
	for _, m := range window {
		switch m.Role {
		case chatmodel.RoleUser, chatmodel.RoleAssistant:
			toIndex = append(toIndex, memory.Message{Role: m.Role, Content: m.Text()})
		}
	}
	if len(toIndex) == 0 {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		if r := panics.Try(func() {
			ictx, cancel := context.WithTimeout(detached, 30*time.Second)
			defer cancel()
			if err := s.memory.Add(ictx, toIndex, userID); err != nil {
				log.Warn().Err(err).Str("chat", chatID).Msg("memory indexing failed")
			}
		}); r != nil {
			log.Error().Err(r.AsError()).Str("chat", chatID).Msg("memory indexing panicked")
		}
	}()
}

// refineTitleDetached replaces the truncated first-turn title with a model
// generated one after the first exchange completes.
func (s *Service) refineTitleDetached(ctx context.Context, chatID string, userMsg *chatmodel.Message, assistant chatmodel.Message) {
	msgs := make([]chatmodel.Message, 0, 2)
	if userMsg != nil {
		msgs = append(msgs, *userMsg)
	}
	msgs = append(msgs, assistant)

	detached := context.WithoutCancel(ctx)
	go func() {
		if r := panics.Try(func() {
			tctx, cancel := context.WithTimeout(detached, 30*time.Second)
			defer cancel()
			title := s.generator.GenerateTitle(tctx, msgs)
			if title == "" || title == "New Chat" {
				return
			}
			if err := s.store.UpdateChatTitle(tctx, chatID, title); err != nil {
				log.Warn().Err(err).Str("chat", chatID).Msg("title update failed")
			}
		}); r != nil {
			log.Error().Err(r.AsError()).Str("chat", chatID).Msg("title refinement panicked")
		}
	}()
}

func lastN(msgs []chatmodel.Message, n int) []chatmodel.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func indexOf(msgs []chatmodel.Message, id string) int {
	for i, m := range msgs {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// deriveTitle takes the first turn's text, truncated on a rune boundary,
// falling back to "New Chat" when the turn has no text at all.
func deriveTitle(first chatmodel.Message) string {
	text := first.Text()
	if text == "" {
		return "New Chat"
	}
	if runes := []rune(text); len(runes) > titleLimit {
		return string(runes[:titleLimit])
	}
	return text
}

// attachmentRefs extracts fetchable references from the trigger turn's parts.
func attachmentRefs(parts chatmodel.Parts) []attachment.Attachment {
	var refs []attachment.Attachment
	for _, p := range parts {
		switch v := p.(type) {
		case chatmodel.FilePart:
			refs = append(refs, attachment.Attachment{URL: v.URL, ContentType: v.MediaType, Name: v.Name})
		case chatmodel.ImagePart:
			refs = append(refs, attachment.Attachment{URL: v.URL, ContentType: v.MediaType, Name: v.Name})
		case chatmodel.TextPart, chatmodel.ToolPart:
			// text stays on the turn itself; tool payloads are opaque
		}
	}
	return refs
}
