// Package search is the HTTP client for the serving endpoint: the health
// check, the per-index statistics query, and the structured search query the
// golden-path verifier asserts against.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to one serving endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the serving endpoint at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// StatusError reports a non-2xx response from the serving endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("serving endpoint returned HTTP %d: %s", e.StatusCode, e.Body)
}

// IndexStats is the aggregate statistics payload for one index.
type IndexStats struct {
	IndexID  string `json:"index_id"`
	DocCount int64  `json:"doc_count"`
}

// Request is a structured search query.
type Request struct {
	Query       string   `json:"query"`
	CoarseTypes []string `json:"coarse_types,omitempty"`
	FineTypes   []string `json:"fine_types,omitempty"`
	MaxHits     int      `json:"max_hits,omitempty"`
}

// Hit is one ranked search result.
type Hit struct {
	ID         string  `json:"id"`
	Label      string  `json:"label"`
	CoarseType string  `json:"coarse_type,omitempty"`
	FineType   string  `json:"fine_type,omitempty"`
	Score      float64 `json:"score"`
}

// Response is the ordered hit list for a search request.
type Response struct {
	NumHits int64 `json:"num_hits"`
	Hits    []Hit `json:"hits"`
}

// Healthy reports whether the health endpoint responds successfully.
func (c *Client) Healthy(ctx context.Context) error {
	return c.getJSON(ctx, "/healthz", &struct{}{})
}

// Stats returns the aggregate document count for the named index. A missing
// index surfaces as a StatusError with code 404.
func (c *Client) Stats(ctx context.Context, indexID string) (*IndexStats, error) {
	var stats IndexStats
	path := fmt.Sprintf("/indexes/%s/stats", url.PathEscape(indexID))
	if err := c.getJSON(ctx, path, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Search issues a structured query against the named index.
func (c *Client) Search(ctx context.Context, indexID string, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	path := fmt.Sprintf("/indexes/%s/search", url.PathEscape(indexID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	var resp Response
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach serving endpoint at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read serving endpoint response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("serving endpoint returned malformed JSON: %w", err)
	}
	return nil
}
