package model

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSSHPort    = 22
	DefaultSSHTimeout = 30
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// JobConfig is the user-editable part of a Job.
type JobConfig struct {
	Name             string
	Host             string
	User             string
	RemotePath       string
	LocalPath        string
	SSHKeyPath       string
	SSHPort          int
	SSHTimeout       int
	Compress         bool
	BandwidthLimit   int
	Excludes         []string
	Cron             string
	DeleteExtraneous bool
	TrackProgress    bool
}

type Job struct {
	ID               uint     `gorm:"primaryKey" json:"id"`
	Name             string   `gorm:"uniqueIndex;not null" json:"name"`
	Host             string   `gorm:"not null" json:"host"`
	User             string   `gorm:"not null" json:"user"`
	RemotePath       string   `gorm:"not null" json:"remote_path"`
	LocalPath        string   `gorm:"not null" json:"local_path"`
	SSHKeyPath       string   `json:"ssh_key_path,omitempty"`
	SSHPort          int      `gorm:"not null" json:"ssh_port"`
	SSHTimeout       int      `gorm:"not null" json:"ssh_timeout"`
	Compress         bool     `json:"compress"`
	BandwidthLimit   int      `json:"bandwidth_limit,omitempty"`
	Excludes         []string `gorm:"serializer:json" json:"excludes,omitempty"`
	Cron             string   `json:"cron,omitempty"`
	DeleteExtraneous bool     `json:"delete_extraneous"`
	TrackProgress    bool     `json:"track_progress"`

	LastRunAt        *time.Time       `json:"last_run_at,omitempty"`
	LastSyncAt       *time.Time       `json:"last_sync_at,omitempty"`
	LastDuration     time.Duration    `json:"last_duration"`
	LastBytes        int64            `json:"last_bytes"`
	LastOutcome      Outcome          `json:"last_outcome,omitempty"`
	LastFailure      FailureKind      `json:"last_failure,omitempty"`
	LastError        string           `json:"last_error,omitempty"`
	ArchiveOutcome   ArchiveOutcome   `json:"archive_outcome,omitempty"`
	CompressionState CompressionState `json:"compression_state,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJob builds a validated job from cfg, filling in SSH defaults and
// resolving the local path to an absolute one.
func NewJob(cfg JobConfig) (Job, error) {
	job := Job{}
	if err := job.Apply(cfg); err != nil {
		return Job{}, err
	}

	return job, nil
}

// Apply replaces the configuration of j with cfg. The name of an existing
// job cannot change.
func (j *Job) Apply(cfg JobConfig) error {
	if j.Name != "" && cfg.Name != j.Name {
		return fmt.Errorf("%w: job name is immutable", ErrInvalidJob)
	}

	if cfg.SSHPort == 0 {
		cfg.SSHPort = DefaultSSHPort
	}
	if cfg.SSHTimeout == 0 {
		cfg.SSHTimeout = DefaultSSHTimeout
	}

	local, err := ExpandPath(cfg.LocalPath)
	if err != nil {
		return err
	}
	cfg.LocalPath = local

	if cfg.SSHKeyPath != "" {
		key, err := ExpandPath(cfg.SSHKeyPath)
		if err != nil {
			return err
		}
		cfg.SSHKeyPath = key
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	j.Name = cfg.Name
	j.Host = cfg.Host
	j.User = cfg.User
	j.RemotePath = cfg.RemotePath
	j.LocalPath = cfg.LocalPath
	j.SSHKeyPath = cfg.SSHKeyPath
	j.SSHPort = cfg.SSHPort
	j.SSHTimeout = cfg.SSHTimeout
	j.Compress = cfg.Compress
	j.BandwidthLimit = cfg.BandwidthLimit
	j.Excludes = cfg.Excludes
	j.Cron = cfg.Cron
	j.DeleteExtraneous = cfg.DeleteExtraneous
	j.TrackProgress = cfg.TrackProgress
	return nil
}

func (j Job) Config() JobConfig {
	return JobConfig{
		Name:             j.Name,
		Host:             j.Host,
		User:             j.User,
		RemotePath:       j.RemotePath,
		LocalPath:        j.LocalPath,
		SSHKeyPath:       j.SSHKeyPath,
		SSHPort:          j.SSHPort,
		SSHTimeout:       j.SSHTimeout,
		Compress:         j.Compress,
		BandwidthLimit:   j.BandwidthLimit,
		Excludes:         j.Excludes,
		Cron:             j.Cron,
		DeleteExtraneous: j.DeleteExtraneous,
		TrackProgress:    j.TrackProgress,
	}
}

func (j Job) Validate() error {
	return j.Config().Validate()
}

func (c JobConfig) Validate() error {
	switch {
	case !namePattern.MatchString(c.Name):
		return fmt.Errorf("%w: name %q must be 1-64 letters, digits, '-' or '_'", ErrInvalidJob, c.Name)
	case strings.TrimSpace(c.Host) == "":
		return fmt.Errorf("%w: host is required", ErrInvalidJob)
	case strings.TrimSpace(c.User) == "":
		return fmt.Errorf("%w: user is required", ErrInvalidJob)
	case strings.TrimSpace(c.RemotePath) == "":
		return fmt.Errorf("%w: remote path is required", ErrInvalidJob)
	case strings.TrimSpace(c.LocalPath) == "":
		return fmt.Errorf("%w: local path is required", ErrInvalidJob)
	case c.SSHPort < 1 || c.SSHPort > 65535:
		return fmt.Errorf("%w: ssh port %d out of range", ErrInvalidJob, c.SSHPort)
	case c.SSHTimeout < 5 || c.SSHTimeout > 300:
		return fmt.Errorf("%w: ssh timeout must be between 5 and 300 seconds", ErrInvalidJob)
	case c.BandwidthLimit < 0:
		return fmt.Errorf("%w: bandwidth limit cannot be negative", ErrInvalidJob)
	}

	for _, pattern := range c.Excludes {
		if strings.TrimSpace(pattern) == "" {
			return fmt.Errorf("%w: empty exclude pattern", ErrInvalidJob)
		}
	}

	if c.Cron != "" {
		if _, err := cron.ParseStandard(c.Cron); err != nil {
			return fmt.Errorf("%w: %w: %q: %v", ErrInvalidJob, ErrScheduleInvalid, c.Cron, err)
		}
	}

	return nil
}

// Destination is where the job's data lands locally.
func (j Job) Destination() string {
	return DestinationPath(j.RemotePath, j.LocalPath)
}

// SSHTimeoutDuration returns the connect timeout as a duration.
func (j Job) SSHTimeoutDuration() time.Duration {
	if j.SSHTimeout <= 0 {
		return DefaultSSHTimeout * time.Second
	}

	return time.Duration(j.SSHTimeout) * time.Second
}

// DestinationPath appends the remote directory name to localPath unless
// localPath already ends with it. Applying it to its own result is a no-op.
func DestinationPath(remotePath, localPath string) string {
	base := path.Base(path.Clean(strings.TrimRight(remotePath, "/")))
	local := filepath.Clean(localPath)

	if base == "." || base == "/" || base == "~" || filepath.Base(local) == base {
		return local
	}

	return filepath.Join(local, base)
}

// ExpandPath resolves a leading "~" and makes p absolute.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home dir: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}

	return abs, nil
}

// ResetRunState forgets every previous run, as if the job was just added.
func (j *Job) ResetRunState() {
	j.LastRunAt = nil
	j.LastSyncAt = nil
	j.LastDuration = 0
	j.LastBytes = 0
	j.LastOutcome = ""
	j.LastFailure = ""
	j.LastError = ""
	j.ArchiveOutcome = ""
}
