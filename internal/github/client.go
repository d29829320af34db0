// Package github implements the rate-aware client for the public GitHub
// events feed. It paginates the listing endpoint, honors rate-limit
// signals with bounded retries, and never touches persisted state.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/logging"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/metrics"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

// FetchError is returned when the fetch step fails after retries are
// exhausted. Fetched carries the partial count so the run can still
// record it.
type FetchError struct {
	Fetched int
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed after %d events: %v", e.Fetched, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimit holds the upstream rate-limit headers from the most recent
// response.
type RateLimit struct {
	Remaining int
	Limit     int
	Reset     time.Time
}

// FetchResult is the outcome of one fetch cycle.
type FetchResult struct {
	Events      []models.RawEvent
	Pages       int
	NotModified bool
	ETag        string
	RateLimit   RateLimit
}

// Config configures the events client.
type Config struct {
	BaseURL        string
	Token          string
	UserAgent      string
	RequestTimeout time.Duration
	PerPage        int
	MaxPages       int
	MaxRetries     int
	MaxEvents      int
	MaxRateWait    time.Duration
}

// Client fetches public events from the GitHub REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates an events client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "github-events-pipeline"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.MaxRateWait <= 0 {
		cfg.MaxRateWait = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// FetchEvents pulls events newer than the cursor, paginating until the
// feed is exhausted, the page limit is reached, or the cursor high-water
// mark is crossed. A conditional request with the cursor's ETag turns an
// unchanged feed into an empty, successful result.
func (c *Client) FetchEvents(ctx context.Context, cursor models.Cursor) (*FetchResult, error) {
	result := &FetchResult{}

	for page := 1; page <= c.cfg.MaxPages; page++ {
		etag := ""
		if page == 1 {
			etag = cursor.ETag
		}

		events, resp, err := c.fetchPage(ctx, page, etag)
		if err != nil {
			return nil, &FetchError{Fetched: len(result.Events), Err: err}
		}
		result.Pages++
		result.RateLimit = resp.rateLimit
		if page == 1 {
			result.ETag = resp.etag
			if resp.notModified {
				result.NotModified = true
				c.logger.Info("upstream feed unchanged", slog.String("etag", cursor.ETag))
				return result, nil
			}
		}

		crossed := false
		for _, ev := range events {
			if behindCursor(ev, cursor) {
				crossed = true
				continue
			}
			result.Events = append(result.Events, ev)
			if c.cfg.MaxEvents > 0 && len(result.Events) >= c.cfg.MaxEvents {
				c.reportRateLimit(result.RateLimit)
				return result, nil
			}
		}

		// Stop when the page was short, empty, or reached back past the
		// last ingested event.
		if crossed || len(events) < c.cfg.PerPage {
			break
		}
	}

	c.reportRateLimit(result.RateLimit)
	return result, nil
}

type pageResponse struct {
	etag        string
	notModified bool
	rateLimit   RateLimit
}

func (c *Client) fetchPage(ctx context.Context, page int, etag string) ([]models.RawEvent, *pageResponse, error) {
	url := fmt.Sprintf("%s/events?per_page=%d&page=%d", c.cfg.BaseURL, c.cfg.PerPage, page)

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.FetchRetries.Inc()
		}

		events, resp, err := c.doRequest(ctx, url, etag)
		if err == nil {
			return events, resp, nil
		}
		lastErr = err

		var retryable *retryableError
		if !errors.As(err, &retryable) {
			return nil, nil, err
		}
		if attempt == c.cfg.MaxRetries {
			break
		}

		wait := retryable.wait
		if wait <= 0 {
			wait = backoff(attempt)
		}
		if wait > c.cfg.MaxRateWait {
			wait = c.cfg.MaxRateWait
		}
		c.logger.Warn("retrying fetch",
			slog.Int("page", page),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			logging.Err(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, nil, err
		}
	}

	return nil, nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// retryableError marks a failure worth retrying; wait is the upstream
// mandated delay, zero when exponential backoff should apply.
type retryableError struct {
	err  error
	wait time.Duration
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func (c *Client) doRequest(ctx context.Context, url, etag string) ([]models.RawEvent, *pageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &retryableError{err: fmt.Errorf("request events: %w", err)}
	}
	defer httpResp.Body.Close()

	resp := &pageResponse{
		etag:      httpResp.Header.Get("ETag"),
		rateLimit: parseRateLimit(httpResp.Header),
	}

	switch {
	case httpResp.StatusCode == http.StatusNotModified:
		resp.notModified = true
		return nil, resp, nil

	case httpResp.StatusCode == http.StatusOK:
		events, err := decodeEvents(httpResp.Body)
		if err != nil {
			return nil, nil, err
		}
		metrics.EventsFetched.Add(float64(len(events)))
		return events, resp, nil

	case rateLimited(httpResp, resp.rateLimit):
		wait := rateLimitWait(httpResp, resp.rateLimit)
		return nil, nil, &retryableError{
			err:  fmt.Errorf("rate limited (remaining=%d, reset=%s)", resp.rateLimit.Remaining, resp.rateLimit.Reset.Format(time.RFC3339)),
			wait: wait,
		}

	case httpResp.StatusCode >= 500:
		return nil, nil, &retryableError{err: fmt.Errorf("upstream error: %s", httpResp.Status)}

	default:
		// 401/404 and other client errors are not recoverable by waiting.
		return nil, nil, fmt.Errorf("upstream rejected request: %s", httpResp.Status)
	}
}

func decodeEvents(r io.Reader) ([]models.RawEvent, error) {
	var docs []map[string]any
	if err := json.NewDecoder(r).Decode(&docs); err != nil {
		return nil, fmt.Errorf("decode events response: %w", err)
	}

	events := make([]models.RawEvent, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc["id"].(string)
		if id == "" {
			// The feed occasionally carries records without an id;
			// they cannot be keyed, so they are dropped here.
			continue
		}
		ev := models.RawEvent{EventID: id, Payload: doc}
		if s, ok := doc["created_at"].(string); ok {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				utc := t.UTC()
				ev.CreatedAt = &utc
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

// behindCursor reports whether the event was already covered by a
// previous successful run.
func behindCursor(ev models.RawEvent, cursor models.Cursor) bool {
	if cursor.IsZero() {
		return false
	}
	if ev.EventID == cursor.LastEventID {
		return true
	}
	if ev.CreatedAt == nil || cursor.LastCreatedAt.IsZero() {
		return false
	}
	return ev.CreatedAt.Before(cursor.LastCreatedAt)
}

func rateLimited(resp *http.Response, rl RateLimit) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && rl.Remaining == 0 && rl.Limit > 0
}

func rateLimitWait(resp *http.Response, rl RateLimit) time.Duration {
	if s := resp.Header.Get("Retry-After"); s != "" {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if !rl.Reset.IsZero() {
		if wait := time.Until(rl.Reset); wait > 0 {
			return wait
		}
	}
	return 0
}

func parseRateLimit(h http.Header) RateLimit {
	rl := RateLimit{Remaining: -1}
	if s := h.Get("X-RateLimit-Remaining"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			rl.Remaining = n
		}
	}
	if s := h.Get("X-RateLimit-Limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			rl.Limit = n
		}
	}
	if s := h.Get("X-RateLimit-Reset"); s != "" {
		if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
			rl.Reset = time.Unix(unix, 0).UTC()
		}
	}
	return rl
}

func (c *Client) reportRateLimit(rl RateLimit) {
	if rl.Remaining < 0 {
		return
	}
	metrics.RateLimitRemaining.Set(float64(rl.Remaining))
	c.logger.Info("upstream rate limit",
		slog.Int("remaining", rl.Remaining),
		slog.Int("limit", rl.Limit),
		slog.Time("resets_at", rl.Reset),
	)
}

func backoff(attempt int) time.Duration {
	base := time.Second << uint(attempt)
	jitter := time.Duration(rand.Int63n(int64(base / 2)))
	return base + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
