package model

import (
	"errors"
	"time"
)

type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailed    Outcome = "FAILED"
	OutcomeCancelled Outcome = "CANCELLED"
)

type ArchiveOutcome string

const (
	ArchiveSkipped ArchiveOutcome = "SKIPPED"
	ArchiveOK      ArchiveOutcome = "OK"
	ArchiveFailed  ArchiveOutcome = "FAILED"
)

type CompressionState string

const (
	StateNone         CompressionState = ""
	StateCompressed   CompressionState = "COMPRESSED"
	StateUncompressed CompressionState = "UNCOMPRESSED"
)

// RunResult is the outcome of one orchestrated run, including retries.
type RunResult struct {
	JobName          string
	Outcome          Outcome
	Failure          FailureKind
	Stage            Stage
	Detail           string
	Bytes            int64
	Attempts         int
	StartedAt        time.Time
	Duration         time.Duration
	ArchiveOutcome   ArchiveOutcome
	ArchiveDetail    string
	CompressionState CompressionState
	Err              error
}

func (r RunResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

// Fail stores err on the result, classifying it.
func (r *RunResult) Fail(err error) {
	r.Err = err
	r.Failure = KindOf(err)
	r.Outcome = OutcomeFailed
	if r.Failure == FailureCancelled {
		r.Outcome = OutcomeCancelled
	}

	r.Detail = err.Error()
	if runErr, ok := errors.AsType[*RunError](err); ok {
		r.Stage = runErr.Stage
	}
}

// Fields returns the job columns a run writes.
func (r RunResult) Fields(finishedAt time.Time) map[string]any {
	lastError := ""
	if !r.Succeeded() {
		lastError = r.Detail
	}
	if r.ArchiveOutcome == ArchiveFailed && lastError == "" {
		lastError = r.ArchiveDetail
	}

	fields := map[string]any{
		"last_run_at":       finishedAt,
		"last_duration":     r.Duration,
		"last_bytes":        r.Bytes,
		"last_outcome":      r.Outcome,
		"last_failure":      r.Failure,
		"last_error":        lastError,
		"archive_outcome":   r.ArchiveOutcome,
		"compression_state": r.CompressionState,
	}
	if r.Succeeded() {
		fields["last_sync_at"] = finishedAt
	}

	return fields
}
