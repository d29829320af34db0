package github

import (
	"time"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

// NextCursor computes the cursor a successful run should persist, as a
// pure function of the previous cursor and the fetch result. The
// high-water mark only moves forward; an empty or unchanged fetch keeps
// the previous mark but still refreshes the ETag.
func NextCursor(prev models.Cursor, result *FetchResult, now time.Time) models.Cursor {
	next := prev
	next.UpdatedAt = now
	if result == nil {
		return next
	}
	if result.ETag != "" {
		next.ETag = result.ETag
	}

	for _, ev := range result.Events {
		if ev.CreatedAt == nil {
			continue
		}
		if ev.CreatedAt.After(next.LastCreatedAt) {
			next.LastCreatedAt = *ev.CreatedAt
			next.LastEventID = ev.EventID
		}
	}
	return next
}
