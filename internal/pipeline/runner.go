// Package pipeline orchestrates one ingestion cycle: run bookkeeping,
// fetch, normalization, and the idempotent write. Failures are isolated
// per cycle; nothing here escapes to the scheduler loop.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/github"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/logging"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/metrics"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/normalizer"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/repository"
)

// finalizeTimeout bounds the bookkeeping write that records a cycle's
// outcome, detached from the (possibly cancelled) cycle context.
const finalizeTimeout = 10 * time.Second

// Fetcher pulls raw events newer than the cursor.
type Fetcher interface {
	FetchEvents(ctx context.Context, cursor models.Cursor) (*github.FetchResult, error)
}

// Runner executes ingestion cycles.
type Runner struct {
	fetcher Fetcher
	repo    repository.Repository
	logger  *slog.Logger

	// now is swapped out in tests.
	now func() time.Time
}

// NewRunner creates a cycle runner.
func NewRunner(fetcher Fetcher, repo repository.Repository, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		fetcher: fetcher,
		repo:    repo,
		logger:  logger,
		now:     time.Now,
	}
}

// RunCycle executes one full ingestion cycle and returns the finalized
// run row. The returned error reports why the run FAILED; a run that
// only skipped malformed records is still SUCCESS with a nil error.
func (r *Runner) RunCycle(ctx context.Context) (run models.PipelineRun, err error) {
	start := r.now()

	tracker, err := Begin(ctx, r.repo, start)
	if err != nil {
		metrics.CyclesTotal.WithLabelValues(string(models.RunFailed)).Inc()
		return models.PipelineRun{}, err
	}

	log := r.logger.With(logging.RunID(tracker.Run().RunID))
	log.Info("cycle started")

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("unexpected panic: %v", p)
			r.fail(tracker, log, 0, 0, err)
		}
		run = tracker.Run()
		metrics.CyclesTotal.WithLabelValues(string(run.Status)).Inc()
		metrics.CycleDuration.Observe(time.Since(start).Seconds())
	}()

	cursor, err := r.repo.LoadCursor(ctx)
	if err != nil {
		r.fail(tracker, log, 0, 0, err)
		return run, err
	}

	result, err := r.fetcher.FetchEvents(ctx, cursor)
	if err != nil {
		fetched := 0
		var ferr *github.FetchError
		if errors.As(err, &ferr) {
			fetched = ferr.Fetched
		}
		r.fail(tracker, log, fetched, 0, err)
		return run, err
	}

	pairs, skipped := r.normalize(log, result.Events)
	fetched := len(result.Events)

	stats, err := r.repo.UpsertEvents(ctx, pairs)
	if err != nil {
		r.fail(tracker, log, fetched, stats.Inserted, err)
		return run, err
	}

	next := github.NextCursor(cursor, result, r.now().UTC())
	if err := r.repo.SaveCursor(ctx, next); err != nil {
		// The next cycle refetches from the old mark; upserts make the
		// overlap harmless, so the run still counts as a success.
		log.Warn("failed to save cursor", logging.Err(err))
	}

	// Finalization is detached from the cycle context so a cancelled
	// cycle can still record its outcome.
	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := tracker.Succeed(fctx, fetched, stats.Inserted); err != nil {
		log.Error("failed to finalize run", logging.Err(err))
		return run, err
	}

	log.Info("cycle finished",
		slog.Int(logging.FieldFetched, fetched),
		slog.Int(logging.FieldInserted, stats.Inserted),
		slog.Int(logging.FieldSkipped, skipped),
		slog.Int(logging.FieldPages, result.Pages),
		logging.Duration(time.Since(start).Milliseconds()),
	)
	return run, nil
}

// normalize partitions raw events into write pairs. Malformed records
// keep their raw row for audit but carry no clean projection.
func (r *Runner) normalize(log *slog.Logger, events []models.RawEvent) ([]models.EventPair, int) {
	pairs := make([]models.EventPair, 0, len(events))
	skipped := 0

	for _, raw := range events {
		pair := models.EventPair{Raw: raw}
		clean, err := normalizer.Normalize(raw)
		if err != nil {
			skipped++
			metrics.NormalizationErrors.Inc()
			log.Warn("skipping malformed event", logging.EventID(raw.EventID), logging.Err(err))
		} else {
			pair.Clean = clean
			metrics.EventsNormalized.Inc()
		}
		pairs = append(pairs, pair)
	}
	return pairs, skipped
}

func (r *Runner) fail(tracker *Tracker, log *slog.Logger, rowsFetched, rowsInserted int, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) {
		msg = "cycle cancelled: " + msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	if err := tracker.Fail(ctx, rowsFetched, rowsInserted, msg); err != nil {
		log.Error("failed to record run failure", logging.Err(err))
		return
	}
	log.Error("cycle failed",
		slog.Int(logging.FieldFetched, rowsFetched),
		slog.Int(logging.FieldInserted, rowsInserted),
		logging.Err(cause),
	)
}
