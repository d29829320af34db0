package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

var (
	ErrRunNotFound     = errors.New("pipeline run not found")
	ErrRunAlreadyFinal = errors.New("pipeline run already finalized")
)

// WriteError is returned when a batch write fails. Written carries the
// count of pairs committed before the failing chunk; earlier chunks
// stand and are corrected by the next cycle's idempotent re-write.
type WriteError struct {
	Written int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed after %d events: %v", e.Written, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// WriteStats summarizes one batch write.
type WriteStats struct {
	Attempted int
	Inserted  int
}

// Repository defines persistence for events, runs and the fetch cursor.
type Repository interface {
	// Event writes. UpsertEvents is idempotent: re-ingesting the same
	// batch never duplicates rows.
	UpsertEvents(ctx context.Context, pairs []models.EventPair) (WriteStats, error)

	// Run bookkeeping.
	BeginRun(ctx context.Context, run *models.PipelineRun) error
	FinalizeRun(ctx context.Context, runID string, status models.RunStatus, rowsFetched, rowsInserted int, errMsg *string) error
	GetRun(ctx context.Context, runID string) (*models.PipelineRun, error)
	MarkStaleRuns(ctx context.Context, cutoff time.Time) (int, error)

	// Fetch cursor persistence.
	LoadCursor(ctx context.Context) (models.Cursor, error)
	SaveCursor(ctx context.Context, cursor models.Cursor) error

	// Utility
	Close()
}
