package chat

import (
	"strings"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message persists a single turn of a conversation.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Parts     Parts     `json:"parts,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Text returns the displayable text of the turn: the content field when set,
// otherwise the text parts concatenated in part order. Never both.
func (m Message) Text() string {
	if m.Content != "" {
		return m.Content
	}

	var b strings.Builder
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			b.WriteString(tp.Text)
		}
	}
	return b.String()
}
