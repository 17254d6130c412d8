package chat

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	chatmodel "github.com/evanwzhao/relay/backend/internal/model/chat"
)

// modelMessages converts the history window into the generator's message
// shape. Only the latest turn gets its attachments inlined (units); earlier
// turns reference theirs by placeholder so old files are never re-fetched.
func modelMessages(window []chatmodel.Message, units []chatmodel.Part) []*schema.Message {
	out := make([]*schema.Message, 0, len(window))
	for i, m := range window {
		latest := i == len(window)-1
		switch m.Role {
		case chatmodel.RoleUser:
			if latest {
				out = append(out, latestUserMessage(m, units))
			} else {
				out = append(out, schema.UserMessage(historyText(m)))
			}
		case chatmodel.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Text(), nil))
		default:
			// other transport roles are not replayed to the model
		}
	}
	return out
}

// latestUserMessage inlines the resolved attachment units. With image units
// present the turn becomes a multi-content message; otherwise extracted text
// is appended to the turn's own text.
func latestUserMessage(m chatmodel.Message, units []chatmodel.Part) *schema.Message {
	text := m.Text()

	var (
		blocks []string
		images []chatmodel.ImagePart
	)
	for _, u := range units {
		switch v := u.(type) {
		case chatmodel.TextPart:
			blocks = append(blocks, v.Text)
		case chatmodel.ImagePart:
			images = append(images, v)
		case chatmodel.FilePart, chatmodel.ToolPart:
			// the normalizer only emits text and image units
		}
	}

	if len(images) == 0 {
		combined := text
		if len(blocks) > 0 {
			if combined != "" {
				combined += "\n\n"
			}
			combined += strings.Join(blocks, "\n\n")
		}
		return schema.UserMessage(combined)
	}

	parts := make([]schema.ChatMessagePart, 0, 1+len(blocks)+len(images))
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text})
	}
	for _, b := range blocks {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: b})
	}
	for _, img := range images {
		parts = append(parts, schema.ChatMessagePart{
			Type:     schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{URL: img.URL},
		})
	}
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

// historyText renders an earlier turn: its text plus a placeholder line per
// attachment.
func historyText(m chatmodel.Message) string {
	var b strings.Builder
	b.WriteString(m.Text())
	for _, p := range m.Parts {
		switch v := p.(type) {
		case chatmodel.ImagePart:
			fmt.Fprintf(&b, "\n[Attachment: %s (%s)]", v.Name, v.MediaType)
		case chatmodel.FilePart:
			fmt.Fprintf(&b, "\n[Attachment: %s (%s)]", v.Name, v.MediaType)
		case chatmodel.TextPart, chatmodel.ToolPart:
		}
	}
	return b.String()
}
