package syncer

import (
	"context"
	"errors"
	"fmt"
	"rsynco/internal/lock"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
	"rsynco/internal/retry"
	"rsynco/internal/syncer/archive"
	"rsynco/internal/util"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Jobs       JobStore
	History    HistoryStore
	Locks      *lock.Manager
	Checker    Prechecker
	Transferer Transferer
	Archiver   Archiver
	Policy     retry.Policy
}

type Runner struct {
	jobs       JobStore
	history    HistoryStore
	locks      *lock.Manager
	checker    Prechecker
	transferer Transferer
	archiver   Archiver

	mu     sync.RWMutex
	policy retry.Policy

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewRunner(opts Options) *Runner {
	return &Runner{
		jobs:       opts.Jobs,
		history:    opts.History,
		locks:      opts.Locks,
		checker:    opts.Checker,
		transferer: opts.Transferer,
		archiver:   opts.Archiver,
		policy:     opts.Policy,
		sleep:      sleepContext,
		now:        time.Now,
	}
}

// SetPolicy replaces the retry policy for runs started afterwards.
func (r *Runner) SetPolicy(policy retry.Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

func (r *Runner) Policy() retry.Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// Run executes the named job once. A held lock or an unknown job returns
// immediately without touching the job record; every other outcome,
// cancellation included, is written to the job and the run history before
// the lock is released. The returned error mirrors result.Err.
func (r *Runner) Run(ctx context.Context, name string, onProgress ProgressFunc) (model.RunResult, error) {
	result := model.RunResult{
		JobName:        name,
		StartedAt:      r.now(),
		ArchiveOutcome: model.ArchiveSkipped,
	}

	job, err := r.jobs.Get(name)
	if err != nil {
		result.Fail(err)
		return result, err
	}

	l, err := r.locks.Acquire(ctx, name)
	if err != nil {
		result.Fail(err)
		result.Stage = model.StageLock
		logger.Log.Info("run skipped",
			zap.String("job", name),
			zap.Error(err))
		return result, err
	}
	defer l.Release()

	// An edit holding the lock may have moved or removed the job while we waited.
	job, err = r.jobs.Get(name)
	if err != nil {
		result.Fail(err)
		return result, err
	}

	logger.Log.Info("run started",
		zap.String("job", name),
		zap.String("dest", job.Destination()))

	r.execute(ctx, job, &result, onProgress)

	finishedAt := r.now()
	result.Duration = finishedAt.Sub(result.StartedAt)
	result.CompressionState = archive.State(job.Destination())

	if err := r.record(job, result, finishedAt); err != nil {
		logger.Log.Error("failed to record run",
			zap.String("job", name),
			zap.Error(err))
		return result, errors.Join(result.Err, err)
	}

	if result.Succeeded() {
		logger.Log.Info("run finished",
			zap.String("job", name),
			zap.Int64("bytes", result.Bytes),
			zap.Duration("duration", result.Duration),
			zap.String("archive", string(result.ArchiveOutcome)))
	} else {
		logger.Log.Warn("run failed",
			zap.String("job", name),
			zap.String("failure", string(result.Failure)),
			zap.String("stage", string(result.Stage)),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err))
	}

	return result, result.Err
}

func (r *Runner) execute(ctx context.Context, job model.Job, result *model.RunResult, onProgress ProgressFunc) {
	policy := r.Policy()
	dest := job.Destination()
	onProgress = monotonic(onProgress)

	err := r.withRetry(ctx, job, result, policy, model.StagePrecheck, func() error {
		return r.checker.Check(ctx, job)
	})
	if err != nil {
		result.Fail(err)
		return
	}

	restored := false
	if job.Compress {
		restored = util.Exists(archive.PathFor(dest))
		if err := r.archiver.Extract(ctx, dest); err != nil {
			result.Fail(stageError(ctx, model.StageRestore, err))
			return
		}
	}

	err = r.withRetry(ctx, job, result, policy, model.StageTransfer, func() error {
		n, err := r.transferer.Transfer(ctx, job, dest, onProgress)
		if n > 0 {
			result.Bytes = n
		}
		return err
	})
	if err != nil {
		result.Fail(err)
		if restored && ctx.Err() == nil {
			r.recompress(ctx, job, result)
		}
		return
	}

	result.Outcome = model.OutcomeSuccess
	result.Err = nil

	if !job.Compress {
		return
	}

	if err := r.archiver.Compress(ctx, dest); err != nil {
		result.ArchiveOutcome = model.ArchiveFailed
		result.ArchiveDetail = stageError(ctx, model.StageArchive, err).Error()
		logger.Log.Warn("archival failed",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}

	result.ArchiveOutcome = model.ArchiveOK
}

// recompress packs a restored destination back up after a failed transfer,
// leaving the job as compressed as it was before the run. The outcome of
// the run stays the transfer failure.
func (r *Runner) recompress(ctx context.Context, job model.Job, result *model.RunResult) {
	if err := r.archiver.Compress(ctx, job.Destination()); err != nil {
		result.ArchiveOutcome = model.ArchiveFailed
		result.ArchiveDetail = stageError(ctx, model.StageArchive, err).Error()
		logger.Log.Warn("failed to recompress after failed transfer",
			zap.String("job", job.Name),
			zap.Error(err))
		return
	}

	result.ArchiveOutcome = model.ArchiveOK
}

// monotonic keeps percent from going backwards across transfer attempts of
// one run. Bytes and rate follow the latest sample.
func monotonic(onProgress ProgressFunc) ProgressFunc {
	if onProgress == nil {
		return nil
	}

	seen := 0
	return func(p pipeline.Progress) {
		seen = max(seen, p.Percent)
		p.Percent = seen
		onProgress(p)
	}
}

// withRetry runs step until it succeeds, fails with a kind the policy will
// not retry, or runs out of attempts.
func (r *Runner) withRetry(ctx context.Context, job model.Job, result *model.RunResult, policy retry.Policy, stage model.Stage, step func() error) error {
	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		err := step()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return cancelled(stage, ctx.Err())
		}
		if _, ok := errors.AsType[*model.RunError](err); !ok {
			err = model.NewRunError(stage, model.FailureFatal, err.Error(), err)
		}

		decision := policy.ShouldRetry(model.RunResult{
			Outcome: model.OutcomeFailed,
			Failure: model.KindOf(err),
		}, attempt)
		if !decision.Retry {
			return err
		}

		logger.Log.Warn("retrying",
			zap.String("job", job.Name),
			zap.String("stage", string(stage)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", decision.Delay),
			zap.Error(err))

		if err := r.sleep(ctx, decision.Delay); err != nil {
			return cancelled(stage, err)
		}
	}
}

func (r *Runner) record(job model.Job, result model.RunResult, finishedAt time.Time) error {
	if err := r.jobs.Update(job.Name, result.Fields(finishedAt)); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	entry := &model.History{
		RunID:          uuid.NewString(),
		JobName:        job.Name,
		Outcome:        result.Outcome,
		Failure:        result.Failure,
		Stage:          result.Stage,
		ErrMsg:         result.Detail,
		Attempts:       result.Attempts,
		Bytes:          result.Bytes,
		Duration:       result.Duration,
		ArchiveOutcome: result.ArchiveOutcome,
		StartedAt:      result.StartedAt,
		FinishedAt:     finishedAt,
	}
	if result.ArchiveOutcome == model.ArchiveFailed && entry.ErrMsg == "" {
		entry.ErrMsg = result.ArchiveDetail
	}

	if err := r.history.Save(entry); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}

	return nil
}

func stageError(ctx context.Context, stage model.Stage, err error) error {
	if ctx.Err() != nil {
		return cancelled(stage, ctx.Err())
	}

	return model.NewRunError(stage, model.FailureArchival, err.Error(), err)
}

func cancelled(stage model.Stage, err error) error {
	return model.NewRunError(stage, model.FailureCancelled, "interrupted", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
