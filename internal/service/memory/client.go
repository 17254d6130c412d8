// Package memory adapts the external long-term memory service. Memory is an
// optional enrichment: indexing failures are logged and swallowed, search
// failures yield an empty result, and neither ever fails a turn.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/evanwzhao/relay/backend/internal/config"
)

// Message is one conversation turn submitted for indexing.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Snippet is a retrieved fact about the user.
type Snippet struct {
	ID     string  `json:"id"`
	Memory string  `json:"memory"`
	Score  float64 `json:"score"`
}

// Client talks to the mem0 REST API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient builds a Client from configuration.
func NewClient(cfg config.MemoryConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Add submits turns for indexing. Best-effort: the caller launches this
// detached and only logs the returned error.
func (c *Client) Add(ctx context.Context, msgs []Message, userID string) error {
	payload := map[string]any{
		"messages": msgs,
		"user_id":  userID,
	}
	return c.post(ctx, "/v1/memories/", payload, nil)
}

// Search returns ranked snippets relevant to the query, or nil on any
// failure.
func (c *Client) Search(ctx context.Context, query, userID string) []Snippet {
	payload := map[string]any{
		"query":   query,
		"user_id": userID,
	}

	var snippets []Snippet
	if err := c.post(ctx, "/v1/memories/search/", payload, &snippets); err != nil {
		log.Warn().Err(err).Str("user", userID).Msg("memory search failed")
		return nil
	}
	return snippets
}

// JoinSnippets renders snippets as the newline-delimited block injected into
// the system prompt.
func JoinSnippets(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	texts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		texts = append(texts, s.Memory)
	}
	return strings.Join(texts, "\n")
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("memory service returned %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode memory response: %w", err)
		}
	}
	return nil
}
