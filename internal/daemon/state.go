package daemon

import (
	"context"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
	"sync"
	"time"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// RunState tracks one run in progress.
type RunState struct {
	mu        sync.RWMutex
	JobName   string
	Trigger   string
	StartedAt time.Time
	progress  pipeline.Progress
	seen      bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewRunState(jobName, trigger string, cancel context.CancelFunc) *RunState {
	return &RunState{
		JobName:   jobName,
		Trigger:   trigger,
		StartedAt: time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// RecordProgress keeps the latest numbers. Heartbeats only mark the run as
// alive.
func (s *RunState) RecordProgress(p pipeline.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seen = true
	if p.Heartbeat {
		s.progress.Percent = max(s.progress.Percent, p.Percent)
		s.progress.Heartbeat = true
		return
	}

	s.progress = p
}

func (s *RunState) Snapshot() model.RunSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.RunSnapshot{
		JobName:   s.JobName,
		Trigger:   s.Trigger,
		StartedAt: s.StartedAt,
		Percent:   s.progress.Percent,
		Bytes:     s.progress.Bytes,
		Rate:      s.progress.Rate,
		Spinner:   !s.seen || s.progress.Heartbeat,
	}
}

func (s *RunState) Done() <-chan struct{} {
	return s.done
}
