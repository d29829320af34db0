package models

import "time"

// RawEvent is an unmodified event payload from the upstream API, stored
// for audit and reprocessing. Payload is kept opaque; only the normalizer
// extracts fields from it.
type RawEvent struct {
	EventID    string         `json:"event_id"`
	Payload    map[string]any `json:"raw_payload"`
	CreatedAt  *time.Time     `json:"created_at,omitempty"`
	IngestedAt time.Time      `json:"ingested_at"`
}

// CleanEvent is the normalized, typed projection of a raw event used for
// analytics. Actor and repo fields are nullable; event_type and created_at
// are mandatory.
type CleanEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	ActorLogin *string   `json:"actor_login,omitempty"`
	RepoID     *int64    `json:"repo_id,omitempty"`
	RepoName   *string   `json:"repo_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	HourBucket time.Time `json:"hour_bucket"`
	DayBucket  time.Time `json:"day_bucket"`
	IngestedAt time.Time `json:"ingested_at"`
}

// EventPair couples a raw event with its clean projection. Clean is nil
// when normalization rejected the record; the raw row is still persisted.
type EventPair struct {
	Raw   RawEvent
	Clean *CleanEvent
}
