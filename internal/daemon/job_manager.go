package daemon

import (
	"context"
	"errors"
	"fmt"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/scheduler"
	"rsynco/internal/syncer"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrRunNotActive = errors.New("no active run for job")

type Runner interface {
	Run(ctx context.Context, name string, onProgress syncer.ProgressFunc) (model.RunResult, error)
}

type JobLister interface {
	GetAll() ([]model.Job, error)
}

// JobManager starts due jobs on every tick and keeps track of the runs this
// daemon has in flight. Different jobs run concurrently; the lock manager
// keeps two runs of the same job apart.
type JobManager struct {
	mu     sync.RWMutex
	runs   map[string]*RunState
	runner Runner
	jobs   JobLister
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	interval chan time.Duration
	tick     time.Duration
	now      func() time.Time
}

func NewJobManager(runner Runner, jobs JobLister, tick time.Duration) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())

	return &JobManager{
		runs:     make(map[string]*RunState),
		runner:   runner,
		jobs:     jobs,
		ctx:      ctx,
		cancel:   cancel,
		interval: make(chan time.Duration, 1),
		tick:     tick,
		now:      time.Now,
	}
}

// Start checks for due jobs right away and then on every tick until the
// manager is stopped.
func (m *JobManager) Start() {
	m.wg.Go(func() {
		ticker := time.NewTicker(m.tick)
		defer ticker.Stop()

		m.Tick(m.now())
		for {
			select {
			case <-m.ctx.Done():
				return
			case d := <-m.interval:
				ticker.Reset(d)
				logger.Log.Info("tick interval changed",
					zap.Duration("interval", d))
			case <-ticker.C:
				m.Tick(m.now())
			}
		}
	})
}

// SetTickInterval changes how often due jobs are checked.
func (m *JobManager) SetTickInterval(d time.Duration) {
	if d <= 0 {
		return
	}

	select {
	case <-m.interval:
	default:
	}
	m.interval <- d
}

// Tick starts every job due at now that is not already running here.
func (m *JobManager) Tick(now time.Time) []string {
	jobs, err := m.jobs.GetAll()
	if err != nil {
		logger.Log.Error("failed to load jobs", zap.Error(err))
		return nil
	}

	due, invalid := scheduler.DueJobs(jobs, now)
	for _, inv := range invalid {
		logger.Log.Warn("skipping job with invalid schedule",
			zap.String("job", inv.Job.Name),
			zap.Error(inv.Err))
	}

	var started []string
	for _, job := range due {
		if err := m.StartRun(job.Name, TriggerSchedule); err != nil {
			logger.Log.Debug("due job not started",
				zap.String("job", job.Name),
				zap.Error(err))
			continue
		}
		started = append(started, job.Name)
	}

	return started
}

// StartRun launches a run of name in the background.
func (m *JobManager) StartRun(name, trigger string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx.Err() != nil {
		return fmt.Errorf("daemon is stopping")
	}
	if _, exists := m.runs[name]; exists {
		return fmt.Errorf("%w: %s", model.ErrLockHeld, name)
	}

	ctx, cancel := context.WithCancel(m.ctx)
	state := NewRunState(name, trigger, cancel)
	m.runs[name] = state

	m.wg.Go(func() {
		m.execute(ctx, state)
	})

	logger.Log.Info("run queued",
		zap.String("job", name),
		zap.String("trigger", trigger))

	return nil
}

func (m *JobManager) execute(ctx context.Context, state *RunState) {
	defer func() {
		state.cancel()

		m.mu.Lock()
		delete(m.runs, state.JobName)
		m.mu.Unlock()

		close(state.done)
	}()

	result, err := m.runner.Run(ctx, state.JobName, state.RecordProgress)
	if err != nil && result.Failure != model.FailureLockHeld {
		logger.Log.Debug("run ended with error",
			zap.String("job", state.JobName),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
	}
}

// CancelRun interrupts the named run; the run still records its outcome.
func (m *JobManager) CancelRun(name string) error {
	m.mu.RLock()
	state, exists := m.runs[name]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotActive, name)
	}

	state.cancel()
	return nil
}

func (m *JobManager) Run(name string) (*RunState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.runs[name]
	return state, ok
}

// Stop cancels every active run and waits until they have been recorded.
func (m *JobManager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *JobManager) Snapshots() []model.RunSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := make([]model.RunSnapshot, 0, len(m.runs))
	for _, state := range m.runs {
		snaps = append(snaps, state.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].JobName < snaps[j].JobName
	})

	return snaps
}
