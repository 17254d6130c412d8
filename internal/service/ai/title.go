package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	chatmodel "github.com/evanwzhao/relay/backend/internal/model/chat"
)

const titlePrompt = `You are a helpful assistant. Generate a short, concise, and descriptive title (max 6 words) for a chat conversation based on the provided messages.
- Do not include "Title:" or quotes.
- If the conversation is about a specific topic (e.g., "Python script error"), use that.
- If the conversation is just greeting, use "New Conversation".
- Return ONLY the title text.`

// GenerateTitle derives a conversation title from the first turns. Falls back
// to "New Chat" on any model failure so title refinement never blocks a turn.
func (s *Service) GenerateTitle(ctx context.Context, msgs []chatmodel.Message) string {
	if len(msgs) > 2 {
		msgs = msgs[:2]
	}

	history := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		text := m.Text()
		if text == "" && len(m.Parts) > 0 {
			text = "User sent an attachment/file."
		}
		switch m.Role {
		case chatmodel.RoleUser:
			history = append(history, schema.UserMessage(text))
		case chatmodel.RoleAssistant:
			history = append(history, schema.AssistantMessage(text, nil))
		}
	}
	if len(history) == 0 {
		return "New Chat"
	}

	response, err := s.Generate(ctx, titlePrompt, history)
	if err != nil {
		log.Warn().Err(err).Msg("title generation failed")
		return "New Chat"
	}

	title := strings.TrimSpace(response.Content)
	if title == "" {
		return "New Chat"
	}
	return truncate(title, 50)
}

// truncate caps s at n characters without splitting a rune.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
