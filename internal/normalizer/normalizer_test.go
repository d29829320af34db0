package normalizer

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

func rawEvent(id string, payload map[string]any) models.RawEvent {
	return models.RawEvent{EventID: id, Payload: payload}
}

func TestNormalize_FullEvent(t *testing.T) {
	raw := rawEvent("46100", map[string]any{
		"id":         "46100",
		"type":       "PushEvent",
		"created_at": "2026-02-17T14:12:45Z",
		"actor": map[string]any{
			"id":    float64(583231),
			"login": "octocat",
		},
		"repo": map[string]any{
			"id":   float64(1296269),
			"name": "octocat/Hello-World",
		},
	})

	clean, err := Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "46100", clean.EventID)
	assert.Equal(t, "PushEvent", clean.EventType)
	assert.Equal(t, time.Date(2026, 2, 17, 14, 12, 45, 0, time.UTC), clean.CreatedAt)
	assert.Equal(t, time.Date(2026, 2, 17, 14, 0, 0, 0, time.UTC), clean.HourBucket)
	assert.Equal(t, time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC), clean.DayBucket)

	require.NotNil(t, clean.ActorID)
	assert.Equal(t, int64(583231), *clean.ActorID)
	require.NotNil(t, clean.ActorLogin)
	assert.Equal(t, "octocat", *clean.ActorLogin)
	require.NotNil(t, clean.RepoID)
	assert.Equal(t, int64(1296269), *clean.RepoID)
	require.NotNil(t, clean.RepoName)
	assert.Equal(t, "octocat/Hello-World", *clean.RepoName)
}

func TestNormalize_MandatoryFields(t *testing.T) {
	tests := []struct {
		name      string
		payload   map[string]any
		wantField string
	}{
		{
			name:      "missing type",
			payload:   map[string]any{"created_at": "2026-02-17T14:12:45Z"},
			wantField: "type",
		},
		{
			name:      "empty type",
			payload:   map[string]any{"type": "", "created_at": "2026-02-17T14:12:45Z"},
			wantField: "type",
		},
		{
			name:      "type not a string",
			payload:   map[string]any{"type": 42.0, "created_at": "2026-02-17T14:12:45Z"},
			wantField: "type",
		},
		{
			name:      "missing created_at",
			payload:   map[string]any{"type": "PushEvent"},
			wantField: "created_at",
		},
		{
			name:      "invalid created_at",
			payload:   map[string]any{"type": "PushEvent", "created_at": "yesterday"},
			wantField: "created_at",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, err := Normalize(rawEvent("e1", tt.payload))
			require.Error(t, err)
			assert.Nil(t, clean)

			var nerr *NormalizationError
			require.True(t, errors.As(err, &nerr))
			assert.Equal(t, tt.wantField, nerr.Field)
			assert.Equal(t, "e1", nerr.EventID)
		})
	}
}

func TestNormalize_OptionalFieldsAbsent(t *testing.T) {
	raw := rawEvent("e2", map[string]any{
		"type":       "WatchEvent",
		"created_at": "2026-02-17T09:00:00Z",
	})

	clean, err := Normalize(raw)
	require.NoError(t, err)

	assert.Nil(t, clean.ActorID)
	assert.Nil(t, clean.ActorLogin)
	assert.Nil(t, clean.RepoID)
	assert.Nil(t, clean.RepoName)
}

func TestNormalize_PrefersParsedCreatedAt(t *testing.T) {
	parsed := time.Date(2026, 2, 17, 8, 30, 0, 0, time.UTC)
	raw := models.RawEvent{
		EventID:   "e3",
		CreatedAt: &parsed,
		Payload: map[string]any{
			"type":       "ForkEvent",
			"created_at": "2020-01-01T00:00:00Z",
		},
	}

	clean, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, parsed, clean.CreatedAt)
}

func TestBucketing_UTCTruncation(t *testing.T) {
	tests := []struct {
		name     string
		in       time.Time
		wantHour time.Time
		wantDay  time.Time
	}{
		{
			name:     "mid hour",
			in:       time.Date(2026, 2, 17, 14, 12, 45, 123456789, time.UTC),
			wantHour: time.Date(2026, 2, 17, 14, 0, 0, 0, time.UTC),
			wantDay:  time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "exact hour boundary",
			in:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantHour: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			wantDay:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "last second of day",
			in:       time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			wantHour: time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC),
			wantDay:  time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "non-UTC input truncates on UTC boundaries",
			in:       time.Date(2026, 2, 17, 1, 30, 0, 0, time.FixedZone("CET", 3600)),
			wantHour: time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC),
			wantDay:  time.Date(2026, 2, 17, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantHour, HourBucket(tt.in))
			assert.Equal(t, tt.wantDay, DayBucket(tt.in))
		})
	}
}
