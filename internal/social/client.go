// Package social implements the HTTP client for the social mention search
// API consumed by the social adapter.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"token-sentinel/internal/domain"
)

// Post is one mention returned by the search endpoint.
type Post struct {
	ID        string `json:"id"`
	Author    string `json:"author_id"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"` // RFC3339
}

// Client talks to the recent-search endpoint with bearer auth.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a search client. A zero timeout defaults to 10s.
func NewClient(baseURL, bearerToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   bearerToken,
		http:    &http.Client{Timeout: timeout},
	}
}

type searchResponse struct {
	Data []Post `json:"data"`
	Meta struct {
		NewestID string `json:"newest_id"`
	} `json:"meta"`
}

// Search returns posts matching query newer than sinceID, oldest first, plus
// the newest id for cursor persistence. An empty sinceID fetches the most
// recent page.
func (c *Client) Search(ctx context.Context, query, sinceID string) ([]Post, string, error) {
	q := url.Values{}
	q.Set("query", query)
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	q.Set("tweet.fields", "created_at,author_id")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/2/tweets/search/recent?%s", c.baseURL, q.Encode()), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: search request: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read response: %v", domain.ErrSourceUnavailable, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, "", fmt.Errorf("%w: search rate limited (429)", domain.ErrSourceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: search status %d: %s", domain.ErrSourceUnavailable, resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, "", fmt.Errorf("unmarshal response: %w", err)
	}

	// The API returns newest first; the pipeline wants applied order.
	posts := parsed.Data
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}

	newest := parsed.Meta.NewestID
	if newest == "" && len(posts) > 0 {
		newest = posts[len(posts)-1].ID
	}
	return posts, newest, nil
}

// ParseCreatedAt converts the post timestamp to Unix milliseconds, falling
// back to now for unparseable values so a format drift upstream does not
// discard mentions.
func ParseCreatedAt(createdAt string, now time.Time) int64 {
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return now.UnixMilli()
	}
	return t.UnixMilli()
}
