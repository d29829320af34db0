package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ddeysel27/Github-Events-Pipeline/internal/metrics"
	"github.com/ddeysel27/Github-Events-Pipeline/internal/models"
)

const defaultChunkSize = 500

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool      *pgxpool.Pool
	chunkSize int
}

// NewPostgresRepository creates a PostgreSQL repository. chunkSize bounds
// the number of event pairs written per transaction; zero selects the
// default of 500.
func NewPostgresRepository(ctx context.Context, connString string, chunkSize int) (*PostgresRepository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &PostgresRepository{pool: pool, chunkSize: chunkSize}, nil
}

const upsertRawSQL = `
	INSERT INTO raw_events (event_id, raw_payload, created_at, ingested_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (event_id) DO UPDATE
	  SET raw_payload = EXCLUDED.raw_payload,
	      created_at = EXCLUDED.created_at,
	      ingested_at = NOW()
`

const upsertCleanSQL = `
	INSERT INTO events_clean (
	  event_id, event_type, actor_id, actor_login,
	  repo_id, repo_name, created_at, hour_bucket, day_bucket, ingested_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	ON CONFLICT (event_id) DO UPDATE
	  SET event_type = EXCLUDED.event_type,
	      actor_id = EXCLUDED.actor_id,
	      actor_login = EXCLUDED.actor_login,
	      repo_id = EXCLUDED.repo_id,
	      repo_name = EXCLUDED.repo_name,
	      created_at = EXCLUDED.created_at,
	      hour_bucket = EXCLUDED.hour_bucket,
	      day_bucket = EXCLUDED.day_bucket,
	      ingested_at = NOW()
`

// UpsertEvents writes raw and clean rows by primary key, one transaction
// per chunk. ingested_at is refreshed on every upsert (last-seen policy).
// A chunk failure aborts the remaining chunks; committed chunks stand.
func (r *PostgresRepository) UpsertEvents(ctx context.Context, pairs []models.EventPair) (WriteStats, error) {
	stats := WriteStats{Attempted: len(pairs)}
	start := time.Now()

	for offset := 0; offset < len(pairs); offset += r.chunkSize {
		end := offset + r.chunkSize
		if end > len(pairs) {
			end = len(pairs)
		}

		n, err := r.upsertChunk(ctx, pairs[offset:end])
		stats.Inserted += n
		if err != nil {
			metrics.WriteErrors.Inc()
			return stats, &WriteError{Written: stats.Inserted, Err: err}
		}
	}

	metrics.WriteDuration.Observe(time.Since(start).Seconds())
	metrics.EventsUpserted.Add(float64(stats.Inserted))
	return stats, nil
}

func (r *PostgresRepository) upsertChunk(ctx context.Context, pairs []models.EventPair) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, pair := range pairs {
		batch.Queue(upsertRawSQL, pair.Raw.EventID, pair.Raw.Payload, pair.Raw.CreatedAt)
		if pair.Clean != nil {
			c := pair.Clean
			batch.Queue(upsertCleanSQL,
				c.EventID, c.EventType, c.ActorID, c.ActorLogin,
				c.RepoID, c.RepoName, c.CreatedAt, c.HourBucket, c.DayBucket,
			)
		}
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return 0, fmt.Errorf("upsert events: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	// Only fully ingested events count as inserted; raw-only rows are
	// audit records for normalization failures.
	inserted := 0
	for _, pair := range pairs {
		if pair.Clean != nil {
			inserted++
		}
	}
	return inserted, nil
}

// BeginRun inserts a STARTED run row.
func (r *PostgresRepository) BeginRun(ctx context.Context, run *models.PipelineRun) error {
	query := `
		INSERT INTO pipeline_runs (run_id, started_at, status, rows_fetched, rows_inserted)
		VALUES ($1, $2, $3, 0, 0)
	`
	_, err := r.pool.Exec(ctx, query, run.RunID, run.StartedAt, run.Status)
	if err != nil {
		return fmt.Errorf("failed to create pipeline run: %w", err)
	}
	return nil
}

// FinalizeRun transitions a STARTED run to a terminal status. The WHERE
// clause enforces the single STARTED -> terminal transition at the store.
func (r *PostgresRepository) FinalizeRun(ctx context.Context, runID string, status models.RunStatus, rowsFetched, rowsInserted int, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("cannot finalize run to non-terminal status %s", status)
	}

	query := `
		UPDATE pipeline_runs
		SET finished_at = NOW(),
		    status = $2,
		    rows_fetched = $3,
		    rows_inserted = $4,
		    error_message = $5
		WHERE run_id = $1 AND status = 'STARTED'
	`
	tag, err := r.pool.Exec(ctx, query, runID, status, rowsFetched, rowsInserted, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finalize pipeline run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetRun(ctx, runID); errors.Is(err, ErrRunNotFound) {
			return ErrRunNotFound
		}
		return ErrRunAlreadyFinal
	}
	return nil
}

// GetRun retrieves a pipeline run by ID.
func (r *PostgresRepository) GetRun(ctx context.Context, runID string) (*models.PipelineRun, error) {
	query := `
		SELECT run_id, started_at, finished_at, status, rows_fetched, rows_inserted, error_message
		FROM pipeline_runs
		WHERE run_id = $1
	`
	run := &models.PipelineRun{}
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID, &run.StartedAt, &run.FinishedAt, &run.Status,
		&run.RowsFetched, &run.RowsInserted, &run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get pipeline run: %w", err)
	}
	return run, nil
}

// MarkStaleRuns finalizes runs left STARTED by a crashed process. Runs
// started before cutoff become FAILED.
func (r *PostgresRepository) MarkStaleRuns(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		UPDATE pipeline_runs
		SET finished_at = NOW(),
		    status = 'FAILED',
		    error_message = 'process terminated before run completed'
		WHERE status = 'STARTED' AND started_at < $1
	`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// LoadCursor reads the persisted fetch cursor. A missing row yields a
// zero cursor (first run ever).
func (r *PostgresRepository) LoadCursor(ctx context.Context) (models.Cursor, error) {
	query := `
		SELECT last_event_id, last_created_at, etag, updated_at
		FROM ingest_cursor
		WHERE id = 1
	`
	var cursor models.Cursor
	err := r.pool.QueryRow(ctx, query).Scan(
		&cursor.LastEventID, &cursor.LastCreatedAt, &cursor.ETag, &cursor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Cursor{}, nil
		}
		return models.Cursor{}, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, nil
}

// SaveCursor persists the fetch cursor.
func (r *PostgresRepository) SaveCursor(ctx context.Context, cursor models.Cursor) error {
	query := `
		INSERT INTO ingest_cursor (id, last_event_id, last_created_at, etag, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		  SET last_event_id = EXCLUDED.last_event_id,
		      last_created_at = EXCLUDED.last_created_at,
		      etag = EXCLUDED.etag,
		      updated_at = EXCLUDED.updated_at
	`
	_, err := r.pool.Exec(ctx, query,
		cursor.LastEventID, cursor.LastCreatedAt, cursor.ETag, cursor.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (r *PostgresRepository) Close() {
	r.pool.Close()
}
