// Package syncer runs one job end to end: lock, precheck, optional restore,
// transfer with retries, optional archival and recording of the outcome.
package syncer

import (
	"context"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
)

// JobStore is the part of the job repository a run needs.
type JobStore interface {
	Get(name string) (model.Job, error)
	Update(name string, fields map[string]any) error
}

type HistoryStore interface {
	Save(entry *model.History) error
}

type Prechecker interface {
	Check(ctx context.Context, job model.Job) error
}

type Transferer interface {
	Transfer(ctx context.Context, job model.Job, dest string, onProgress func(pipeline.Progress)) (int64, error)
}

type Archiver interface {
	Compress(ctx context.Context, dest string) error
	Extract(ctx context.Context, dest string) error
}

// ProgressFunc receives live transfer progress for the running job.
type ProgressFunc func(pipeline.Progress)
