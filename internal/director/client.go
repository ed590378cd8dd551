package director

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cchambers/director/internal/transcript"
)

const defaultTimeout = 20 * time.Second

// Client calls the director text services over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type contextLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type suggestRequest struct {
	Context []contextLine `json:"context"`
}

type suggestResponse struct {
	Suggestion string `json:"suggestion"`
}

type claimsRequest struct {
	Context []contextLine `json:"context"`
}

type claimsResponse struct {
	Claims []string `json:"claims"`
}

// Suggest asks for a coaching suggestion from recent transcript context.
func (c *Client) Suggest(ctx context.Context, entries []transcript.Entry) (string, error) {
	var resp suggestResponse
	if err := c.post(ctx, "/v1/suggest", suggestRequest{Context: toLines(entries)}, &resp); err != nil {
		return "", err
	}
	return resp.Suggestion, nil
}

// ExtractClaims asks for checkable claims found in recent transcript context.
func (c *Client) ExtractClaims(ctx context.Context, entries []transcript.Entry) ([]string, error) {
	var resp claimsResponse
	if err := c.post(ctx, "/v1/claims", claimsRequest{Context: toLines(entries)}, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call director service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("director service http %d: %s", resp.StatusCode, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func toLines(entries []transcript.Entry) []contextLine {
	lines := make([]contextLine, len(entries))
	for i, e := range entries {
		lines[i] = contextLine{Speaker: e.Speaker, Text: e.Text}
	}
	return lines
}
