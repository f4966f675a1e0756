package syncer

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"rsynco/internal/lock"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
	"rsynco/internal/retry"
	"rsynco/internal/syncer/archive"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]model.Job
	updates int
	onGet   func()
}

func newMemStore(jobs ...model.Job) *memStore {
	s := &memStore{jobs: make(map[string]model.Job)}
	for _, job := range jobs {
		s.jobs[job.Name] = job
	}
	return s
}

func (s *memStore) Get(name string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[name]
	if !ok {
		return model.Job{}, model.ErrJobNotFound
	}
	if s.onGet != nil {
		s.onGet()
	}
	return job, nil
}

func (s *memStore) Update(name string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := s.jobs[name]
	for key, value := range fields {
		switch key {
		case "last_run_at":
			job.LastRunAt = new(value.(time.Time))
		case "last_sync_at":
			job.LastSyncAt = new(value.(time.Time))
		case "last_duration":
			job.LastDuration = value.(time.Duration)
		case "last_bytes":
			job.LastBytes = value.(int64)
		case "last_outcome":
			job.LastOutcome = value.(model.Outcome)
		case "last_failure":
			job.LastFailure = value.(model.FailureKind)
		case "last_error":
			job.LastError = value.(string)
		case "archive_outcome":
			job.ArchiveOutcome = value.(model.ArchiveOutcome)
		case "compression_state":
			job.CompressionState = value.(model.CompressionState)
		}
	}
	s.jobs[name] = job
	s.updates++
	return nil
}

func (s *memStore) job(name string) model.Job {
	job, _ := s.Get(name)
	return job
}

type memHistory struct {
	mu      sync.Mutex
	entries []model.History
}

func (h *memHistory) Save(entry *model.History) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, *entry)
	return nil
}

type fakeChecker struct {
	mu    sync.Mutex
	errs  []error
	calls int
}

func (f *fakeChecker) Check(context.Context, model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.calls <= len(f.errs) {
		return f.errs[f.calls-1]
	}
	return nil
}

type fakeTransferer struct {
	mu    sync.Mutex
	errs  []error
	calls int
	dests []string
	run   func(ctx context.Context, dest string) error

	// progress[i] is emitted during call i+1 before its error is returned.
	progress [][]pipeline.Progress
}

func (f *fakeTransferer) Transfer(ctx context.Context, _ model.Job, dest string, onProgress func(pipeline.Progress)) (int64, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.dests = append(f.dests, dest)
	f.mu.Unlock()

	if f.run != nil {
		if err := f.run(ctx, dest); err != nil {
			return 0, err
		}
	}
	if call <= len(f.progress) && onProgress != nil {
		for _, p := range f.progress[call-1] {
			onProgress(p)
		}
	}
	if call <= len(f.errs) && f.errs[call-1] != nil {
		return 512, f.errs[call-1]
	}

	if onProgress != nil {
		onProgress(pipeline.Progress{Percent: 100, Bytes: 2048})
	}
	return 2048, nil
}

func (f *fakeTransferer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeArchiver struct {
	compressErr error
	extractErr  error
	compressed  int
}

func (f *fakeArchiver) Compress(context.Context, string) error {
	f.compressed++
	return f.compressErr
}

func (f *fakeArchiver) Extract(context.Context, string) error { return f.extractErr }

func transferErr(kind model.FailureKind) error {
	return model.NewRunError(model.StageTransfer, kind, string(kind), nil)
}

func precheckErr(kind model.FailureKind) error {
	return model.NewRunError(model.StagePrecheck, kind, string(kind), nil)
}

// writeFiles is a transfer body that materializes the destination.
func writeFiles(_ context.Context, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dest, "file.txt"), []byte("data"), 0644)
}

type harness struct {
	store    *memStore
	history  *memHistory
	checker  *fakeChecker
	transfer *fakeTransferer
	locks    *lock.Manager
	runner   *Runner
	delays   []time.Duration
	job      model.Job
}

func newHarness(t *testing.T, archiver Archiver, compress bool) *harness {
	t.Helper()

	job, err := model.NewJob(model.JobConfig{
		Name:       "photos",
		Host:       "nas.local",
		User:       "backup",
		RemotePath: "/srv/photos",
		LocalPath:  t.TempDir(),
		Compress:   compress,
	})
	require.NoError(t, err)

	locks, err := lock.NewManager(t.TempDir(), 20*time.Millisecond)
	require.NoError(t, err)

	h := &harness{
		store:    newMemStore(job),
		history:  &memHistory{},
		checker:  &fakeChecker{},
		transfer: &fakeTransferer{run: writeFiles},
		locks:    locks,
		job:      job,
	}
	if archiver == nil {
		archiver = &fakeArchiver{}
	}

	h.runner = NewRunner(Options{
		Jobs:       h.store,
		History:    h.history,
		Locks:      locks,
		Checker:    h.checker,
		Transferer: h.transfer,
		Archiver:   archiver,
		Policy: retry.Policy{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
	})
	h.runner.sleep = func(ctx context.Context, d time.Duration) error {
		h.delays = append(h.delays, d)
		return ctx.Err()
	}

	return h
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, nil, false)

	var events []pipeline.Progress
	result, err := h.runner.Run(context.Background(), "photos", func(p pipeline.Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	assert.Equal(t, model.OutcomeSuccess, result.Outcome)
	assert.Equal(t, int64(2048), result.Bytes)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, model.ArchiveSkipped, result.ArchiveOutcome)
	assert.Equal(t, model.StateUncompressed, result.CompressionState)
	assert.Len(t, events, 1)

	job := h.store.job("photos")
	assert.NotNil(t, job.LastSyncAt)
	assert.NotNil(t, job.LastRunAt)
	assert.Equal(t, model.OutcomeSuccess, job.LastOutcome)
	assert.Empty(t, job.LastError)
	assert.Equal(t, int64(2048), job.LastBytes)

	require.Len(t, h.history.entries, 1)
	assert.NotEmpty(t, h.history.entries[0].RunID)
	assert.Equal(t, model.OutcomeSuccess, h.history.entries[0].Outcome)
}

func TestRunUnknownJob(t *testing.T) {
	h := newHarness(t, nil, false)

	_, err := h.runner.Run(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
	assert.Zero(t, h.store.updates)
	assert.Empty(t, h.history.entries)
}

func TestRunLockHeldLeavesJobUntouched(t *testing.T) {
	h := newHarness(t, nil, false)

	held, err := h.locks.Acquire(context.Background(), "photos")
	require.NoError(t, err)
	defer held.Release()

	result, err := h.runner.Run(context.Background(), "photos", nil)
	assert.ErrorIs(t, err, model.ErrLockHeld)
	assert.Equal(t, model.FailureLockHeld, result.Failure)
	assert.Equal(t, model.StageLock, result.Stage)

	assert.Zero(t, h.store.updates)
	assert.Empty(t, h.history.entries)
	assert.Zero(t, h.checker.calls)
	assert.Zero(t, h.transfer.count())
}

func TestRunConcurrentRunsOfSameJob(t *testing.T) {
	h := newHarness(t, nil, false)

	started := make(chan struct{})
	release := make(chan struct{})
	h.transfer.run = func(ctx context.Context, dest string) error {
		close(started)
		<-release
		return writeFiles(ctx, dest)
	}

	type outcome struct {
		result model.RunResult
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		result, err := h.runner.Run(context.Background(), "photos", nil)
		first <- outcome{result, err}
	}()

	<-started
	_, err := h.runner.Run(context.Background(), "photos", nil)
	assert.ErrorIs(t, err, model.ErrLockHeld)

	close(release)
	got := <-first
	require.NoError(t, got.err)
	assert.True(t, got.result.Succeeded())

	assert.Equal(t, 1, h.store.updates)
	assert.Len(t, h.history.entries, 1)
}

func TestRunRetriesUntilCeiling(t *testing.T) {
	h := newHarness(t, nil, false)
	partial := transferErr(model.FailurePartialTransfer)
	h.transfer.errs = []error{partial, partial, partial, partial}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	assert.Equal(t, model.FailurePartialTransfer, result.Failure)
	assert.Equal(t, model.StageTransfer, result.Stage)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, h.transfer.count())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.delays)

	job := h.store.job("photos")
	assert.Nil(t, job.LastSyncAt)
	assert.NotNil(t, job.LastRunAt)
	assert.Equal(t, model.FailurePartialTransfer, job.LastFailure)
	assert.NotEmpty(t, job.LastError)
}

func TestRunRecoversAfterTransientFailure(t *testing.T) {
	h := newHarness(t, nil, false)
	h.transfer.errs = []error{transferErr(model.FailureTimeout)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, []time.Duration{time.Second}, h.delays)
}

func TestRunAuthFailureIsFatal(t *testing.T) {
	h := newHarness(t, nil, false)
	h.checker.errs = []error{precheckErr(model.FailureAuth)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.FailureAuth, result.Failure)
	assert.Equal(t, model.StagePrecheck, result.Stage)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, h.delays)
	assert.Zero(t, h.transfer.count())

	job := h.store.job("photos")
	assert.Equal(t, model.OutcomeFailed, job.LastOutcome)
	assert.Nil(t, job.LastSyncAt)
}

func TestRunRetriesUnreachableHost(t *testing.T) {
	h := newHarness(t, nil, false)
	h.checker.errs = []error{precheckErr(model.FailureUnreachable), precheckErr(model.FailureUnreachable)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, h.checker.calls)
	assert.Equal(t, 1, h.transfer.count())
}

func TestRunPlainErrorIsFatal(t *testing.T) {
	h := newHarness(t, nil, false)
	h.transfer.errs = []error{errors.New("boom")}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.FailureFatal, result.Failure)
	assert.Equal(t, model.StageTransfer, result.Stage)
	assert.Equal(t, 1, h.transfer.count())
}

func TestRunCancelledIsRecorded(t *testing.T) {
	h := newHarness(t, nil, false)

	ctx, cancel := context.WithCancel(context.Background())
	h.transfer.run = func(ctx context.Context, _ string) error {
		cancel()
		<-ctx.Done()
		return model.NewRunError(model.StageTransfer, model.FailureCancelled, "interrupted", ctx.Err())
	}

	result, err := h.runner.Run(ctx, "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.OutcomeCancelled, result.Outcome)
	assert.Equal(t, model.FailureCancelled, result.Failure)
	assert.Empty(t, h.delays)

	job := h.store.job("photos")
	assert.Equal(t, model.OutcomeCancelled, job.LastOutcome)
	assert.Contains(t, job.LastError, "interrupted")
	require.Len(t, h.history.entries, 1)

	l, err := h.locks.Acquire(context.Background(), "photos")
	require.NoError(t, err)
	l.Release()
}

func TestRunArchivalFailureKeepsTransferSuccess(t *testing.T) {
	h := newHarness(t, &fakeArchiver{compressErr: errors.New("disk full")}, true)

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, model.ArchiveFailed, result.ArchiveOutcome)
	assert.Contains(t, result.ArchiveDetail, "disk full")

	job := h.store.job("photos")
	assert.NotNil(t, job.LastSyncAt)
	assert.Equal(t, model.ArchiveFailed, job.ArchiveOutcome)
	assert.Contains(t, job.LastError, "disk full")
	assert.Equal(t, model.StateUncompressed, job.CompressionState)
}

func TestRunRestoreFailureStopsRun(t *testing.T) {
	h := newHarness(t, &fakeArchiver{extractErr: errors.New("corrupt archive")}, true)

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.FailureArchival, result.Failure)
	assert.Equal(t, model.StageRestore, result.Stage)
	assert.Zero(t, h.transfer.count())
}

func TestRunCompressesAndRestores(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}

	h := newHarness(t, archive.New(""), true)
	dest := h.job.Destination()

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ArchiveOK, result.ArchiveOutcome)
	assert.Equal(t, model.StateCompressed, result.CompressionState)
	assert.NoDirExists(t, dest)
	assert.FileExists(t, archive.PathFor(dest))

	var sawPrevious bool
	h.transfer.run = func(ctx context.Context, dest string) error {
		_, err := os.Stat(filepath.Join(dest, "file.txt"))
		sawPrevious = err == nil
		return writeFiles(ctx, dest)
	}

	result, err = h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)
	assert.True(t, sawPrevious)
	assert.Equal(t, model.StateCompressed, result.CompressionState)
	assert.NoDirExists(t, dest)
	assert.Equal(t, model.StateCompressed, h.store.job("photos").CompressionState)
}

func TestSetPolicy(t *testing.T) {
	h := newHarness(t, nil, false)
	h.runner.SetPolicy(retry.Policy{MaxAttempts: 1})
	h.transfer.errs = []error{transferErr(model.FailureTimeout)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)
	assert.Equal(t, 1, result.Attempts)
}

func TestRunProgressNeverGoesBackAcrossRetries(t *testing.T) {
	h := newHarness(t, nil, false)
	h.transfer.errs = []error{transferErr(model.FailurePartialTransfer)}
	h.transfer.progress = [][]pipeline.Progress{
		{{Percent: 60, Bytes: 600}},
		{{Percent: 10, Bytes: 100}, {Percent: 100, Bytes: 1000}},
	}

	var events []pipeline.Progress
	result, err := h.runner.Run(context.Background(), "photos", func(p pipeline.Progress) {
		events = append(events, p)
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)

	require.Len(t, events, 4)
	for i := 1; i < len(events); i++ {
		assert.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent)
	}
	assert.Equal(t, 60, events[1].Percent)
	assert.Equal(t, int64(100), events[1].Bytes)
	assert.Equal(t, 100, events[3].Percent)
}

func TestRunRereadsJobAfterLocking(t *testing.T) {
	h := newHarness(t, nil, false)
	moved := t.TempDir()

	h.store.onGet = func() {
		job := h.store.jobs["photos"]
		job.LocalPath = moved
		h.store.jobs["photos"] = job
		h.store.onGet = nil
	}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)
	assert.True(t, result.Succeeded())

	require.Len(t, h.transfer.dests, 1)
	assert.Equal(t, model.DestinationPath("/srv/photos", moved), h.transfer.dests[0])
}

func TestRunJobRemovedWhileWaitingForLock(t *testing.T) {
	h := newHarness(t, nil, false)
	h.store.onGet = func() {
		delete(h.store.jobs, "photos")
		h.store.onGet = nil
	}

	_, err := h.runner.Run(context.Background(), "photos", nil)
	assert.ErrorIs(t, err, model.ErrJobNotFound)
	assert.Zero(t, h.transfer.count())
	assert.Empty(t, h.history.entries)
}

func TestRunRecompressesAfterFailedTransfer(t *testing.T) {
	archiver := &fakeArchiver{}
	h := newHarness(t, archiver, true)
	dest := h.job.Destination()
	require.NoError(t, os.WriteFile(archive.PathFor(dest), []byte("archive"), 0644))

	h.transfer.errs = []error{transferErr(model.FailureInvalidPath)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)

	assert.Equal(t, model.OutcomeFailed, result.Outcome)
	assert.Equal(t, model.FailureInvalidPath, result.Failure)
	assert.Equal(t, 1, archiver.compressed)
	assert.Equal(t, model.ArchiveOK, result.ArchiveOutcome)
}

func TestRunDoesNotCompressWithoutRestore(t *testing.T) {
	archiver := &fakeArchiver{}
	h := newHarness(t, archiver, true)
	h.transfer.errs = []error{transferErr(model.FailureInvalidPath)}

	_, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)
	assert.Zero(t, archiver.compressed)
}

func TestRunFailedTransferLeavesArchiveInPlace(t *testing.T) {
	if _, err := exec.LookPath("tar"); err != nil {
		t.Skip("tar not installed")
	}

	h := newHarness(t, archive.New(""), true)
	dest := h.job.Destination()

	_, err := h.runner.Run(context.Background(), "photos", nil)
	require.NoError(t, err)
	require.FileExists(t, archive.PathFor(dest))

	h.transfer.run = nil
	h.transfer.errs = []error{nil, transferErr(model.FailureFatal)}

	result, err := h.runner.Run(context.Background(), "photos", nil)
	require.Error(t, err)
	assert.Equal(t, model.StateCompressed, result.CompressionState)
	assert.FileExists(t, archive.PathFor(dest))
	assert.NoDirExists(t, dest)
}
