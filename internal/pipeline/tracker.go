package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/repository"
)

// Tracker owns the lifecycle of one pipeline run row. It is single-use:
// Begin creates the STARTED row, then exactly one of Succeed or Fail
// finalizes it.
type Tracker struct {
	repo      repository.Repository
	run       models.PipelineRun
	finalized bool
}

// Begin creates a new STARTED run row and returns its tracker.
func Begin(ctx context.Context, repo repository.Repository, now time.Time) (*Tracker, error) {
	run := models.PipelineRun{
		RunID:     uuid.New().String(),
		StartedAt: now.UTC(),
		Status:    models.RunStarted,
	}
	if err := repo.BeginRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	return &Tracker{repo: repo, run: run}, nil
}

// Run returns a copy of the tracked run row.
func (t *Tracker) Run() models.PipelineRun {
	return t.run
}

// Succeed finalizes the run as SUCCESS with the final counters.
func (t *Tracker) Succeed(ctx context.Context, rowsFetched, rowsInserted int) error {
	return t.finalize(ctx, models.RunSuccess, rowsFetched, rowsInserted, nil)
}

// Fail finalizes the run as FAILED, recording the cause.
func (t *Tracker) Fail(ctx context.Context, rowsFetched, rowsInserted int, cause string) error {
	return t.finalize(ctx, models.RunFailed, rowsFetched, rowsInserted, &cause)
}

func (t *Tracker) finalize(ctx context.Context, status models.RunStatus, rowsFetched, rowsInserted int, errMsg *string) error {
	if t.finalized {
		return fmt.Errorf("run %s already finalized as %s", t.run.RunID, t.run.Status)
	}
	if err := t.repo.FinalizeRun(ctx, t.run.RunID, status, rowsFetched, rowsInserted, errMsg); err != nil {
		return fmt.Errorf("finalize run %s: %w", t.run.RunID, err)
	}

	t.finalized = true
	now := time.Now().UTC()
	t.run.Status = status
	t.run.FinishedAt = &now
	t.run.RowsFetched = rowsFetched
	t.run.RowsInserted = rowsInserted
	t.run.ErrorMessage = errMsg
	return nil
}
