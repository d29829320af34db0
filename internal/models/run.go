package models

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStarted RunStatus = "STARTED"
	RunSuccess RunStatus = "SUCCESS"
	RunFailed  RunStatus = "FAILED"
)

// Terminal reports whether the status is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// PipelineRun records one execution of the ingestion cycle end-to-end.
// A run transitions STARTED -> SUCCESS|FAILED exactly once; finished_at
// is set if and only if the status is terminal.
type PipelineRun struct {
	RunID        string     `json:"run_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	RowsFetched  int        `json:"rows_fetched"`
	RowsInserted int        `json:"rows_inserted"`
	ErrorMessage *string    `json:"error_message,omitempty"`
}
