package social

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"token-sentinel/internal/domain"
)

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok123" {
			t.Errorf("auth header %q", got)
		}
		if got := r.URL.Query().Get("query"); got != "$SOLY" {
			t.Errorf("query %q", got)
		}
		if got := r.URL.Query().Get("since_id"); got != "100" {
			t.Errorf("since_id %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{
				{"id": "102", "author_id": "u2", "text": "$SOLY mooning", "created_at": "2024-01-01T00:02:00Z"},
				{"id": "101", "author_id": "u1", "text": "$SOLY looks good", "created_at": "2024-01-01T00:01:00Z"},
			},
			"meta": map[string]string{"newest_id": "102"},
		})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok123", time.Second)
	posts, newest, err := c.Search(context.Background(), "$SOLY", "100")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if newest != "102" {
		t.Errorf("newest id %q", newest)
	}
	if len(posts) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(posts))
	}
	// Oldest first for in-order application.
	if posts[0].ID != "101" || posts[1].ID != "102" {
		t.Errorf("wrong order: %s, %s", posts[0].ID, posts[1].ID)
	}
}

func TestClient_SearchEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}, "meta": map[string]string{}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", time.Second)
	posts, newest, err := c.Search(context.Background(), "$SOLY", "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(posts) != 0 || newest != "" {
		t.Errorf("expected empty result, got %d posts, newest %q", len(posts), newest)
	}
}

func TestClient_SearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.URL, "tok", time.Second)
	_, _, err := c.Search(context.Background(), "$SOLY", "")
	if err == nil {
		t.Fatal("expected error on 429")
	}
	if !errors.Is(err, domain.ErrSourceUnavailable) {
		t.Errorf("429 not marked as source unavailability: %v", err)
	}
}

func TestParseCreatedAt(t *testing.T) {
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

	got := ParseCreatedAt("2024-01-01T12:00:00Z", now)
	want := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}

	if got := ParseCreatedAt("garbage", now); got != now.UnixMilli() {
		t.Errorf("fallback mismatch: %d", got)
	}
}
