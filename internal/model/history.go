package model

import (
	"time"
)

// History is one finished run as kept in the run log.
type History struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	RunID          string         `gorm:"uniqueIndex;not null" json:"run_id"`
	JobName        string         `gorm:"index;not null" json:"job_name"`
	Outcome        Outcome        `gorm:"not null" json:"outcome"`
	Failure        FailureKind    `json:"failure,omitempty"`
	Stage          Stage          `json:"stage,omitempty"`
	ErrMsg         string         `json:"error,omitempty"`
	Attempts       int            `json:"attempts"`
	Bytes          int64          `json:"bytes"`
	Duration       time.Duration  `json:"duration"`
	ArchiveOutcome ArchiveOutcome `json:"archive_outcome,omitempty"`
	StartedAt      time.Time      `gorm:"not null" json:"started_at"`
	FinishedAt     time.Time      `gorm:"index;not null" json:"finished_at"`
}
