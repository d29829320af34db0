package logging

import "log/slog"

// Common field names for consistent logging across the pipeline.
const (
	FieldRunID    = "run_id"
	FieldEventID  = "event_id"
	FieldError    = "error"
	FieldPages    = "pages"
	FieldFetched  = "rows_fetched"
	FieldInserted = "rows_inserted"
	FieldSkipped  = "rows_skipped"
	FieldDuration = "duration_ms"
)

// RunID returns a slog attribute for the pipeline run ID.
func RunID(id string) slog.Attr {
	return slog.String(FieldRunID, id)
}

// EventID returns a slog attribute for the upstream event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// Err returns a slog attribute for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(FieldError, "")
	}
	return slog.String(FieldError, err.Error())
}

// Duration returns a slog attribute for duration in milliseconds.
func Duration(ms int64) slog.Attr {
	return slog.Int64(FieldDuration, ms)
}
