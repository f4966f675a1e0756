// Package lock serializes runs of the same job across processes with one
// flock(2)-style advisory lock file per job. The kernel drops the lock when
// the holder exits, so a crashed run never leaves a job blocked.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"rsynco/internal/model"
	"sync"
	"time"

	"github.com/alexflint/go-filemutex"
)

const pollInterval = 10 * time.Millisecond

type Manager struct {
	dir  string
	wait time.Duration
}

func NewManager(dir string, wait time.Duration) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock dir: %w", err)
	}

	return &Manager{dir: dir, wait: wait}, nil
}

func (m *Manager) Path(jobName string) string {
	return filepath.Join(m.dir, jobName+".lock")
}

// Acquire takes the lock for jobName. It retries for at most the configured
// wait and then fails with model.ErrLockHeld.
func (m *Manager) Acquire(ctx context.Context, jobName string) (*Lock, error) {
	if jobName == "" || filepath.Base(jobName) != jobName {
		return nil, fmt.Errorf("invalid job name for lock: %q", jobName)
	}

	mu, err := filemutex.New(m.Path(jobName))
	if err != nil {
		return nil, fmt.Errorf("failed to create job mutex: %w", err)
	}

	deadline := time.Now().Add(m.wait)
	for {
		err := mu.TryLock()
		if err == nil {
			return &Lock{name: jobName, mu: mu}, nil
		}

		if !errors.Is(err, filemutex.AlreadyLocked) {
			_ = mu.Close()
			return nil, fmt.Errorf("failed to lock job %s: %w", jobName, err)
		}

		if !time.Now().Before(deadline) {
			_ = mu.Close()
			return nil, fmt.Errorf("%w: %s", model.ErrLockHeld, jobName)
		}

		select {
		case <-ctx.Done():
			_ = mu.Close()
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Lock is a held job lock.
type Lock struct {
	name string
	mu   *filemutex.FileMutex
	once sync.Once
	err  error
}

func (l *Lock) Name() string {
	return l.name
}

// Release unlocks and closes the lock file. Only the first call has an
// effect.
func (l *Lock) Release() error {
	l.once.Do(func() {
		if err := l.mu.Unlock(); err != nil {
			l.err = fmt.Errorf("failed to unlock job %s: %w", l.name, err)
		}
		if err := l.mu.Close(); err != nil && l.err == nil {
			l.err = fmt.Errorf("failed to close lock for job %s: %w", l.name, err)
		}
	})

	return l.err
}
