package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrLockHeld        = errors.New("job is already being synced by another process")
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrInvalidJob      = errors.New("invalid job")
	ErrScheduleInvalid = errors.New("invalid cron schedule")
)

type FailureKind string

const (
	FailureUnreachable      FailureKind = "UNREACHABLE"
	FailureAuth             FailureKind = "AUTH_FAILED"
	FailureTimeout          FailureKind = "TIMEOUT"
	FailureConnectionReset  FailureKind = "CONNECTION_RESET"
	FailurePartialTransfer  FailureKind = "PARTIAL_TRANSFER"
	FailureProtocol         FailureKind = "PROTOCOL_ERROR"
	FailureInvalidPath      FailureKind = "INVALID_PATH"
	FailurePermissionDenied FailureKind = "PERMISSION_DENIED"
	FailureFatal            FailureKind = "FATAL"
	FailureCancelled        FailureKind = "CANCELLED"
	FailureArchival         FailureKind = "ARCHIVAL_FAILED"
	FailureLockHeld         FailureKind = "LOCK_HELD"
)

type Stage string

const (
	StageLock     Stage = "lock"
	StagePrecheck Stage = "precheck"
	StageRestore  Stage = "restore"
	StageTransfer Stage = "transfer"
	StageArchive  Stage = "archive"
)

// RunError describes why one step of a run failed.
type RunError struct {
	Stage  Stage
	Kind   FailureKind
	Detail string
	Err    error
}

func NewRunError(stage Stage, kind FailureKind, detail string, err error) *RunError {
	return &RunError{Stage: stage, Kind: kind, Detail: detail, Err: err}
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s failed (%s)", e.Stage, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil && e.Err.Error() != e.Detail {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind carried by err, FailureFatal when err is
// not a RunError.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrLockHeld) {
		return FailureLockHeld
	}

	if runErr, ok := errors.AsType[*RunError](err); ok {
		return runErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return FailureCancelled
	}

	return FailureFatal
}
