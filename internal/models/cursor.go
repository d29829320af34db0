package models

import "time"

// Cursor is the persisted fetch high-water mark. It survives restarts in a
// dedicated single-row table and is only advanced when a run succeeds.
type Cursor struct {
	LastEventID   string    `json:"last_event_id"`
	LastCreatedAt time.Time `json:"last_created_at"`
	ETag          string    `json:"etag"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsZero reports whether the cursor has never been advanced.
func (c Cursor) IsZero() bool {
	return c.LastEventID == "" && c.LastCreatedAt.IsZero() && c.ETag == ""
}
