// Package normalizer maps raw GitHub event payloads into clean, typed
// analytics records. Normalization is pure: it never touches the network
// or the store, and a malformed record yields a tagged error instead of
// failing the batch.
package normalizer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

// NormalizationError describes a record that could not be normalized.
// It names the missing or invalid field so skipped records are auditable.
type NormalizationError struct {
	EventID string
	Field   string
	Reason  string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize event %s: field %q: %s", e.EventID, e.Field, e.Reason)
}

// Normalize converts one raw event into its clean projection.
// event_type and created_at are mandatory; actor and repo fields are
// best-effort and persisted as null when absent.
func Normalize(raw models.RawEvent) (*models.CleanEvent, error) {
	eventType, ok := raw.Payload["type"].(string)
	if !ok || eventType == "" {
		return nil, &NormalizationError{EventID: raw.EventID, Field: "type", Reason: "missing or empty"}
	}

	createdAt, err := extractCreatedAt(raw)
	if err != nil {
		return nil, &NormalizationError{EventID: raw.EventID, Field: "created_at", Reason: err.Error()}
	}

	clean := &models.CleanEvent{
		EventID:    raw.EventID,
		EventType:  eventType,
		CreatedAt:  createdAt,
		HourBucket: HourBucket(createdAt),
		DayBucket:  DayBucket(createdAt),
	}

	if actor, ok := raw.Payload["actor"].(map[string]any); ok {
		clean.ActorID = asInt64(actor["id"])
		clean.ActorLogin = asString(actor["login"])
	}
	if repo, ok := raw.Payload["repo"].(map[string]any); ok {
		clean.RepoID = asInt64(repo["id"])
		clean.RepoName = asString(repo["name"])
	}

	return clean, nil
}

// HourBucket truncates a timestamp to the hour in UTC.
func HourBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// DayBucket truncates a timestamp to the day in UTC.
func DayBucket(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func extractCreatedAt(raw models.RawEvent) (time.Time, error) {
	if raw.CreatedAt != nil && !raw.CreatedAt.IsZero() {
		return raw.CreatedAt.UTC(), nil
	}
	s, ok := raw.Payload["created_at"].(string)
	if !ok || s == "" {
		return time.Time{}, fmt.Errorf("missing")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

func asInt64(v any) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case int64:
		return &n
	case int:
		i := int64(n)
		return &i
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return &i
		}
	}
	return nil
}

func asString(v any) *string {
	if s, ok := v.(string); ok && s != "" {
		return &s
	}
	return nil
}
