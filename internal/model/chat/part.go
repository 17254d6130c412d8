package chat

import (
	"encoding/json"
	"fmt"
)

// Part is one typed fragment of a turn's content. The four variants are
// closed: consumers dispatch with a type switch covering all of them.
type Part interface {
	isPart()
}

// TextPart carries literal text.
type TextPart struct {
	Text string
}

// ImagePart references an uploaded image by URL.
type ImagePart struct {
	URL       string
	MediaType string
	Name      string
}

// FilePart references an uploaded non-image file by URL.
type FilePart struct {
	URL       string
	MediaType string
	Name      string
}

// ToolPart is an opaque tool-invocation payload. The raw JSON object is kept
// verbatim and never interpreted.
type ToolPart struct {
	Raw json.RawMessage
}

func (TextPart) isPart()  {}
func (ImagePart) isPart() {}
func (FilePart) isPart()  {}
func (ToolPart) isPart()  {}

// Parts is an ordered part sequence with envelope-based JSON encoding.
type Parts []Part

type partEnvelope struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	MediaType string `json:"mediaType,omitempty"`
	Filename  string `json:"filename,omitempty"`
	// legacy image shape from older clients
	ImageURL string `json:"image_url,omitempty"`
}

func (ps Parts) MarshalJSON() ([]byte, error) {
	out := make([]json.RawMessage, 0, len(ps))
	for _, p := range ps {
		var (
			raw []byte
			err error
		)
		switch v := p.(type) {
		case TextPart:
			raw, err = json.Marshal(partEnvelope{Type: "text", Text: v.Text})
		case ImagePart:
			raw, err = json.Marshal(partEnvelope{Type: "image", URL: v.URL, MediaType: v.MediaType, Filename: v.Name})
		case FilePart:
			raw, err = json.Marshal(partEnvelope{Type: "file", URL: v.URL, MediaType: v.MediaType, Filename: v.Name})
		case ToolPart:
			if len(v.Raw) > 0 {
				raw = v.Raw
			} else {
				raw = []byte(`{"type":"tool-invocation"}`)
			}
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

func (ps *Parts) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}

	parts := make(Parts, 0, len(raws))
	for _, raw := range raws {
		var env partEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return err
		}
		switch env.Type {
		case "text":
			parts = append(parts, TextPart{Text: env.Text})
		case "image":
			parts = append(parts, ImagePart{URL: env.URL, MediaType: env.MediaType, Name: env.Filename})
		case "input_image":
			parts = append(parts, ImagePart{URL: env.ImageURL, MediaType: env.MediaType, Name: env.Filename})
		case "file":
			parts = append(parts, FilePart{URL: env.URL, MediaType: env.MediaType, Name: env.Filename})
		default:
			// tool invocations and any unrecognized part pass through untouched
			parts = append(parts, ToolPart{Raw: append(json.RawMessage(nil), raw...)})
		}
	}
	*ps = parts
	return nil
}
