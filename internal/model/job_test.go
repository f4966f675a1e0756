package model

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) JobConfig {
	return JobConfig{
		Name:       "photos",
		Host:       "nas.local",
		User:       "backup",
		RemotePath: "/srv/photos",
		LocalPath:  t.TempDir(),
	}
}

func TestNewJobDefaults(t *testing.T) {
	job, err := NewJob(validConfig(t))
	require.NoError(t, err)

	assert.Equal(t, DefaultSSHPort, job.SSHPort)
	assert.Equal(t, DefaultSSHTimeout, job.SSHTimeout)
	assert.True(t, filepath.IsAbs(job.LocalPath))
	assert.Equal(t, 30*time.Second, job.SSHTimeoutDuration())
}

func TestNewJobRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*JobConfig)
	}{
		{"bad name", func(c *JobConfig) { c.Name = "my job" }},
		{"empty name", func(c *JobConfig) { c.Name = "" }},
		{"no host", func(c *JobConfig) { c.Host = " " }},
		{"no user", func(c *JobConfig) { c.User = "" }},
		{"no remote path", func(c *JobConfig) { c.RemotePath = "" }},
		{"no local path", func(c *JobConfig) { c.LocalPath = "" }},
		{"port", func(c *JobConfig) { c.SSHPort = 70000 }},
		{"timeout", func(c *JobConfig) { c.SSHTimeout = 2 }},
		{"bandwidth", func(c *JobConfig) { c.BandwidthLimit = -1 }},
		{"exclude", func(c *JobConfig) { c.Excludes = []string{"*.tmp", ""} }},
		{"cron", func(c *JobConfig) { c.Cron = "61 * * * *" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			_, err := NewJob(cfg)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
}

func TestNewJobInvalidCronIsScheduleError(t *testing.T) {
	cfg := validConfig(t)
	cfg.Cron = "not a schedule"

	_, err := NewJob(cfg)
	assert.ErrorIs(t, err, ErrScheduleInvalid)
}

func TestApplyKeepsNameImmutable(t *testing.T) {
	job, err := NewJob(validConfig(t))
	require.NoError(t, err)

	cfg := job.Config()
	cfg.Name = "renamed"
	assert.ErrorIs(t, job.Apply(cfg), ErrInvalidJob)
	assert.Equal(t, "photos", job.Name)

	cfg = job.Config()
	cfg.Compress = true
	cfg.Cron = "@daily"
	require.NoError(t, job.Apply(cfg))
	assert.True(t, job.Compress)
	assert.Equal(t, "@daily", job.Cron)
}

func TestDestinationPath(t *testing.T) {
	tests := []struct {
		remote, local, want string
	}{
		{"/srv/photos", "/backup", "/backup/photos"},
		{"/srv/photos/", "/backup", "/backup/photos"},
		{"/srv/photos", "/backup/photos", "/backup/photos"},
		{"photos", "/backup/", "/backup/photos"},
		{"/", "/backup", "/backup"},
		{"~", "/backup", "/backup"},
	}

	for _, tt := range tests {
		got := DestinationPath(tt.remote, tt.local)
		assert.Equal(t, tt.want, got, "remote=%s local=%s", tt.remote, tt.local)
		assert.Equal(t, got, DestinationPath(tt.remote, got), "not idempotent for %s", tt.remote)
	}
}

func TestKindOf(t *testing.T) {
	runErr := NewRunError(StageTransfer, FailurePartialTransfer, "code 23", nil)

	assert.Equal(t, FailureKind(""), KindOf(nil))
	assert.Equal(t, FailurePartialTransfer, KindOf(runErr))
	assert.Equal(t, FailurePartialTransfer, KindOf(fmt.Errorf("wrapped: %w", runErr)))
	assert.Equal(t, FailureLockHeld, KindOf(ErrLockHeld))
	assert.Equal(t, FailureCancelled, KindOf(context.Canceled))
	assert.Equal(t, FailureFatal, KindOf(errors.New("boom")))
}

func TestRunResultFields(t *testing.T) {
	finished := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var failed RunResult
	failed.Fail(NewRunError(StagePrecheck, FailureAuth, "permission denied", nil))
	fields := failed.Fields(finished)

	assert.Equal(t, OutcomeFailed, fields["last_outcome"])
	assert.Equal(t, FailureAuth, fields["last_failure"])
	assert.Equal(t, StagePrecheck, failed.Stage)
	assert.Contains(t, fields["last_error"], "permission denied")
	assert.Equal(t, finished, fields["last_run_at"])
	assert.NotContains(t, fields, "last_sync_at")

	ok := RunResult{Outcome: OutcomeSuccess, ArchiveOutcome: ArchiveFailed, ArchiveDetail: "tar exited 2"}
	fields = ok.Fields(finished)
	assert.Equal(t, finished, fields["last_sync_at"])
	assert.Equal(t, "tar exited 2", fields["last_error"])

	var cancelled RunResult
	cancelled.Fail(NewRunError(StageTransfer, FailureCancelled, "interrupted", context.Canceled))
	assert.Equal(t, OutcomeCancelled, cancelled.Outcome)
}
