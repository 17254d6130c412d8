package attachment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/evanwzhao/relay/backend/internal/model/chat"
)

// Size ceilings for fetched attachments.
const (
	maxFileSize = 10 << 20 // generic attachments
	maxPDFSize  = 20 << 20 // PDFs carry more extractable text
)

const wordDocxType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Attachment is a transient reference to an uploaded file.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Name        string `json:"name"`
}

// Normalizer converts attachment references into model-consumable parts.
// Every failure degrades to a text placeholder; Process never errors so one
// malformed attachment cannot abort a multi-attachment turn.
type Normalizer struct {
	client *http.Client
}

// NewNormalizer returns a Normalizer with a bounded fetch timeout.
func NewNormalizer() *Normalizer {
	return &Normalizer{client: &http.Client{Timeout: 30 * time.Second}}
}

// ProcessAll resolves every attachment concurrently, preserving input order.
func (n *Normalizer) ProcessAll(ctx context.Context, atts []Attachment) []chat.Part {
	if len(atts) == 0 {
		return nil
	}

	parts := make([]chat.Part, len(atts))
	var wg conc.WaitGroup
	for i, att := range atts {
		i, att := i, att
		wg.Go(func() {
			parts[i] = n.Process(ctx, att)
		})
	}
	wg.Wait()
	return parts
}

// Process converts one attachment into a part: an image reference passed
// through untouched, or extracted text.
func (n *Normalizer) Process(ctx context.Context, att Attachment) chat.Part {
	// Images go to the model by URL; no fetch needed.
	if strings.HasPrefix(att.ContentType, "image/") {
		return chat.ImagePart{URL: att.URL, MediaType: att.ContentType, Name: att.Name}
	}

	data, err := n.fetch(ctx, att)
	if err != nil {
		log.Warn().Err(err).Str("attachment", att.Name).Msg("attachment fetch failed")
		return chat.TextPart{Text: fmt.Sprintf("[Error processing file %s: %v]", att.Name, err)}
	}

	isPDF := strings.Contains(att.ContentType, "pdf")
	if !isPDF && len(data) > maxFileSize {
		return chat.TextPart{Text: fmt.Sprintf("[Error: File %s exceeds size limit (10MB)]", att.Name)}
	}

	switch {
	case isPDF:
		if len(data) > maxPDFSize {
			return chat.TextPart{Text: fmt.Sprintf("[Error: PDF %s exceeds size limit (20MB)]", att.Name)}
		}
		text, pages, err := extractPDF(data)
		if err != nil {
			log.Warn().Err(err).Str("attachment", att.Name).Msg("pdf extraction failed")
			return chat.TextPart{Text: fmt.Sprintf(
				"[Error: Could not parse PDF %s. The file may be corrupted or password-protected. Error: %v]", att.Name, err)}
		}
		return chat.TextPart{Text: pdfText(att.Name, text, pages)}

	// Legacy .doc (application/msword) is an OLE binary, not a docx archive,
	// and falls through to the unsupported placeholder.
	case att.ContentType == wordDocxType:
		text, err := extractDocx(data)
		if err != nil {
			log.Warn().Err(err).Str("attachment", att.Name).Msg("word extraction failed")
			return chat.TextPart{Text: fmt.Sprintf("[Error processing file %s: %v]", att.Name, err)}
		}
		return chat.TextPart{Text: fmt.Sprintf("[Word Document: %s]\n\n%s", att.Name, text)}

	case strings.Contains(att.ContentType, "spreadsheet") || strings.Contains(att.ContentType, "excel"):
		text, sheets, err := extractSpreadsheet(data)
		if err != nil {
			log.Warn().Err(err).Str("attachment", att.Name).Msg("spreadsheet extraction failed")
			return chat.TextPart{Text: fmt.Sprintf("[Error processing file %s: %v]", att.Name, err)}
		}
		return chat.TextPart{Text: fmt.Sprintf("[Excel File: %s (%d sheets)]\n%s", att.Name, sheets, text)}

	case isTextLike(att.ContentType):
		if !utf8.Valid(data) {
			return chat.TextPart{Text: fmt.Sprintf("[Error processing file %s: content is not valid UTF-8]", att.Name)}
		}
		return chat.TextPart{Text: fmt.Sprintf("[File Content: %s]\n\n%s", att.Name, data)}

	default:
		return chat.TextPart{Text: fmt.Sprintf(
			"[Unsupported File: %s (%s) - This file type cannot be processed. Supported formats: PDF, Word (.docx), Excel (.xlsx), images, and text files.]",
			att.Name, att.ContentType)}
	}
}

func (n *Normalizer) fetch(ctx context.Context, att Attachment) ([]byte, error) {
	url := rewriteURL(att.URL, att.ContentType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// Some blob hosts reject requests without a browser user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch file: %d %s", resp.StatusCode, resp.Status)
	}

	// Read one byte past the largest cap so oversize files are detected
	// without buffering them whole.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPDFSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("received empty file data")
	}
	return data, nil
}

// rewriteURL upgrades insecure blob-store references and requests the
// attachment delivery variant for blob-store PDFs, whose inline delivery is
// restricted on free plans.
func rewriteURL(url, contentType string) string {
	if strings.HasPrefix(url, "http://res.cloudinary.com") {
		url = "https://" + strings.TrimPrefix(url, "http://")
	}
	if strings.Contains(url, "cloudinary.com") && strings.Contains(contentType, "pdf") {
		url = strings.Replace(url, "/upload/", "/upload/fl_attachment/", 1)
	}
	return url
}

// pdfText formats extracted PDF text, substituting an OCR notice for
// likely-scanned documents where extraction found almost nothing.
func pdfText(name, text string, pages int) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 100 && pages > 1 {
		return fmt.Sprintf(
			"[PDF %s: This appears to be a scanned PDF with limited text extraction. Only %d characters extracted from %d pages. OCR processing may be needed for better results.]",
			name, len(trimmed), pages)
	}
	return fmt.Sprintf("[PDF Content: %s (%d pages)]\n\n%s", name, pages, trimmed)
}

func isTextLike(contentType string) bool {
	for _, kind := range []string{"text", "json", "javascript", "typescript", "xml", "html", "css"} {
		if strings.Contains(contentType, kind) {
			return true
		}
	}
	return false
}
