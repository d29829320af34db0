package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

func testClient(t *testing.T, srv *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = srv.URL
	c := NewClient(cfg, nil)
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return c
}

func eventDoc(id string, createdAt string) map[string]any {
	return map[string]any{
		"id":         id,
		"type":       "PushEvent",
		"created_at": createdAt,
		"actor":      map[string]any{"id": 1, "login": "octocat"},
		"repo":       map[string]any{"id": 2, "name": "octocat/Hello-World"},
	}
}

func writeEvents(w http.ResponseWriter, docs []map[string]any) {
	w.Header().Set("X-RateLimit-Remaining", "55")
	w.Header().Set("X-RateLimit-Limit", "60")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(docs)
}

func TestFetchEvents_Paginates(t *testing.T) {
	pages := map[string][]map[string]any{
		"1": {
			eventDoc("103", "2026-02-17T14:03:00Z"),
			eventDoc("102", "2026-02-17T14:02:00Z"),
		},
		"2": {
			eventDoc("101", "2026-02-17T14:01:00Z"),
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		page := r.URL.Query().Get("page")
		writeEvents(w, pages[page])
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 2, MaxPages: 5, MaxRetries: 1})

	result, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.NoError(t, err)

	require.Len(t, result.Events, 3)
	assert.Equal(t, 2, result.Pages) // second page was short, no third request
	assert.Equal(t, "103", result.Events[0].EventID)
	assert.Equal(t, 55, result.RateLimit.Remaining)
}

func TestFetchEvents_StopsAtCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, []map[string]any{
			eventDoc("103", "2026-02-17T14:03:00Z"),
			eventDoc("102", "2026-02-17T14:02:00Z"),
			eventDoc("101", "2026-02-17T14:01:00Z"),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 3, MaxPages: 5, MaxRetries: 1})

	cursor := models.Cursor{
		LastEventID:   "102",
		LastCreatedAt: time.Date(2026, 2, 17, 14, 2, 0, 0, time.UTC),
	}
	result, err := c.FetchEvents(context.Background(), cursor)
	require.NoError(t, err)

	// 102 is the cursor event, 101 is older; only 103 is new. Paging
	// stops after the first page because the cursor was crossed.
	require.Len(t, result.Events, 1)
	assert.Equal(t, "103", result.Events[0].EventID)
	assert.Equal(t, 1, result.Pages)
}

func TestFetchEvents_NotModified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, `"etag-1"`, r.Header.Get("If-None-Match"))
		w.Header().Set("ETag", `"etag-1"`)
		w.WriteHeader(http.StatusNotModified)
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 100, MaxPages: 3, MaxRetries: 1})

	result, err := c.FetchEvents(context.Background(), models.Cursor{ETag: `"etag-1"`})
	require.NoError(t, err)
	assert.True(t, result.NotModified)
	assert.Empty(t, result.Events)
}

func TestFetchEvents_RateLimitRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeEvents(w, []map[string]any{eventDoc("200", "2026-02-17T15:00:00Z")})
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 100, MaxPages: 1, MaxRetries: 2})

	result, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	require.Len(t, result.Events, 1)
}

func TestFetchEvents_RetriesExhausted_PartialCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			docs := make([]map[string]any, 0, 10)
			for i := 0; i < 10; i++ {
				docs = append(docs, eventDoc(fmt.Sprintf("3%02d", i), "2026-02-17T16:00:00Z"))
			}
			writeEvents(w, docs)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 10, MaxPages: 3, MaxRetries: 2})

	_, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.Error(t, err)

	var ferr *FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, 10, ferr.Fetched)
}

func TestFetchEvents_AuthErrorNoRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 100, MaxPages: 1, MaxRetries: 3})

	_, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestFetchEvents_MaxEventsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		docs := make([]map[string]any, 0, 5)
		for i := 0; i < 5; i++ {
			docs = append(docs, eventDoc(fmt.Sprintf("4%02d", i), "2026-02-17T17:00:00Z"))
		}
		writeEvents(w, docs)
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 5, MaxPages: 10, MaxRetries: 1, MaxEvents: 7})

	result, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.NoError(t, err)
	assert.Len(t, result.Events, 7)
}

func TestFetchEvents_SkipsRecordsWithoutID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, []map[string]any{
			eventDoc("500", "2026-02-17T18:00:00Z"),
			{"type": "PushEvent", "created_at": "2026-02-17T18:00:00Z"},
		})
	}))
	defer srv.Close()

	c := testClient(t, srv, Config{PerPage: 100, MaxPages: 1, MaxRetries: 1})

	result, err := c.FetchEvents(context.Background(), models.Cursor{})
	require.NoError(t, err)
	require.Len(t, result.Events, 1)
	assert.Equal(t, "500", result.Events[0].EventID)
}

func TestNextCursor(t *testing.T) {
	now := time.Date(2026, 2, 17, 19, 0, 0, 0, time.UTC)
	t14 := time.Date(2026, 2, 17, 14, 0, 0, 0, time.UTC)
	t15 := time.Date(2026, 2, 17, 15, 0, 0, 0, time.UTC)

	prev := models.Cursor{
		LastEventID:   "100",
		LastCreatedAt: t14,
		ETag:          `"old"`,
	}

	t.Run("advances to newest event", func(t *testing.T) {
		result := &FetchResult{
			ETag: `"new"`,
			Events: []models.RawEvent{
				{EventID: "101", CreatedAt: &t15},
				{EventID: "99", CreatedAt: &t14},
			},
		}
		next := NextCursor(prev, result, now)
		assert.Equal(t, "101", next.LastEventID)
		assert.Equal(t, t15, next.LastCreatedAt)
		assert.Equal(t, `"new"`, next.ETag)
		assert.Equal(t, now, next.UpdatedAt)
	})

	t.Run("empty fetch keeps mark, refreshes etag", func(t *testing.T) {
		next := NextCursor(prev, &FetchResult{ETag: `"new"`}, now)
		assert.Equal(t, "100", next.LastEventID)
		assert.Equal(t, t14, next.LastCreatedAt)
		assert.Equal(t, `"new"`, next.ETag)
	})

	t.Run("mark never moves backwards", func(t *testing.T) {
		t13 := time.Date(2026, 2, 17, 13, 0, 0, 0, time.UTC)
		result := &FetchResult{Events: []models.RawEvent{{EventID: "98", CreatedAt: &t13}}}
		next := NextCursor(prev, result, now)
		assert.Equal(t, "100", next.LastEventID)
		assert.Equal(t, t14, next.LastCreatedAt)
	})
}
