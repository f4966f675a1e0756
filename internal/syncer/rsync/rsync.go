// Package rsync runs the external rsync process for a job and turns its
// output and exit status into progress events and classified failures.
package rsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/pipeline"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBinary    = "rsync"
	defaultWaitDelay = 10 * time.Second
	tailLines        = 10
)

var errStalled = errors.New("no output from rsync")

var exitDescriptions = map[int]string{
	1:   "syntax or usage error",
	2:   "protocol incompatibility",
	3:   "errors selecting input/output files, dirs",
	4:   "requested action not supported",
	5:   "error starting client-server protocol",
	10:  "error in socket I/O",
	11:  "error in file I/O",
	12:  "error in rsync protocol data stream",
	20:  "received SIGUSR1 or SIGINT",
	23:  "partial transfer due to error",
	24:  "partial transfer due to vanished source files",
	25:  "the --max-delete limit stopped deletions",
	30:  "timeout in data send/receive",
	35:  "timeout waiting for daemon connection",
	255: "ssh connection failed",
}

// Transferer invokes rsync. The zero value uses "rsync" from $PATH with no
// stall detection.
type Transferer struct {
	Binary string
	// StallTimeout kills the transfer after this long without any output.
	StallTimeout time.Duration
	// WaitDelay bounds how long a cancelled rsync may take to exit after
	// SIGTERM before it is killed.
	WaitDelay time.Duration
	// LogDir, when set, receives a raw output log per run of jobs that track
	// progress.
	LogDir string
}

func New(binary string, stallTimeout time.Duration) *Transferer {
	return &Transferer{Binary: binary, StallTimeout: stallTimeout}
}

// Args builds the rsync argument list that mirrors the job's remote
// directory into dest.
func Args(job model.Job, dest string) []string {
	args := []string{"-a", "-z", "--partial", "--itemize-changes"}

	if job.TrackProgress {
		args = append(args, "--info=progress2", "--no-inc-recursive")
	}
	if job.DeleteExtraneous {
		args = append(args, "--delete")
	}
	if job.BandwidthLimit > 0 {
		args = append(args, "--bwlimit", strconv.Itoa(job.BandwidthLimit))
	}
	for _, pattern := range job.Excludes {
		args = append(args, "--exclude", pattern)
	}

	args = append(args, "-e", SSHCommand(job))
	args = append(args, remoteSpec(job), strings.TrimRight(dest, "/")+"/")

	return args
}

// SSHCommand is the remote shell rsync uses to reach the job's host.
func SSHCommand(job model.Job) string {
	timeout := int(job.SSHTimeoutDuration() / time.Second)
	parts := []string{
		"ssh",
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=" + strconv.Itoa(timeout),
		"-o", "ServerAliveInterval=10",
		"-o", "ServerAliveCountMax=3",
	}

	port := job.SSHPort
	if port == 0 {
		port = model.DefaultSSHPort
	}
	parts = append(parts, "-p", strconv.Itoa(port))

	if job.SSHKeyPath != "" {
		parts = append(parts, "-i", shellQuote(job.SSHKeyPath))
	}

	return strings.Join(parts, " ")
}

func remoteSpec(job model.Job) string {
	remote := strings.TrimRight(job.RemotePath, "/") + "/"
	return fmt.Sprintf("%s@%s:%s", job.User, job.Host, remote)
}

// Transfer runs rsync for job into dest, reporting progress events to
// onProgress as they are parsed. It returns the bytes transferred according
// to the last progress sample. Failures are *model.RunError values at stage
// transfer.
func (t *Transferer) Transfer(ctx context.Context, job model.Job, dest string, onProgress func(pipeline.Progress)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fail(model.FailurePermissionDenied, "failed to create destination parent", err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	args := Args(job, dest)
	cmd := exec.CommandContext(runCtx, t.binary(), args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = t.waitDelay()

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	logger.Log.Debug("starting rsync",
		zap.String("job", job.Name),
		zap.Strings("args", args))

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return 0, fail(model.FailureFatal, "failed to start rsync", err)
	}

	done := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		_ = pw.Close()
		done <- err
	}()

	var stall *time.Timer
	if t.StallTimeout > 0 {
		stall = time.AfterFunc(t.StallTimeout, func() {
			cancel(errStalled)
		})
		defer stall.Stop()
	}

	out := t.openLog(job)
	defer func() {
		if out != nil {
			_ = out.Close()
		}
	}()

	var (
		parser pipeline.ProgressParser
		tail   outputTail
		bytes  int64
	)
	for chunk := range pipeline.Lines(pr) {
		if stall != nil {
			stall.Reset(t.StallTimeout)
		}
		if out != nil {
			_, _ = fmt.Fprintln(out, chunk)
		}

		event, ok := parser.Parse(chunk)
		if !ok {
			continue
		}
		if event.Heartbeat {
			tail.add(chunk)
		} else if event.Bytes > 0 {
			bytes = event.Bytes
		}
		if onProgress != nil {
			onProgress(event)
		}
	}
	_ = pr.Close()

	err := <-done
	if err == nil {
		return bytes, nil
	}

	if ctx.Err() != nil {
		return bytes, fail(model.FailureCancelled, "interrupted", ctx.Err())
	}
	if errors.Is(context.Cause(runCtx), errStalled) {
		return bytes, fail(model.FailureTimeout,
			fmt.Sprintf("no output for %s", t.StallTimeout), errStalled)
	}

	exitErr, ok := errors.AsType[*exec.ExitError](err)
	if !ok {
		return bytes, fail(model.FailureFatal, "rsync did not finish", err)
	}

	code := exitErr.ExitCode()
	kind := Classify(code, tail.String())
	detail := describe(code)
	if output := tail.String(); output != "" {
		detail += "\n" + output
	}

	return bytes, fail(kind, detail, err)
}

// Classify maps an rsync exit code, plus the tail of its output, to a
// failure kind.
func Classify(code int, output string) model.FailureKind {
	lower := strings.ToLower(output)

	switch code {
	case 0:
		return ""
	case 23:
		switch {
		case strings.Contains(lower, "permission denied"):
			return model.FailurePermissionDenied
		case strings.Contains(lower, "change_dir") || strings.Contains(lower, "link_stat"):
			return model.FailureInvalidPath
		}
		return model.FailurePartialTransfer
	case 24:
		return model.FailurePartialTransfer
	case 30, 35:
		return model.FailureTimeout
	case 10:
		return model.FailureConnectionReset
	case 2, 5, 12:
		return model.FailureProtocol
	case 3:
		return model.FailureInvalidPath
	case 255:
		return classifySSH(lower)
	}

	if strings.Contains(lower, "permission denied") {
		return model.FailurePermissionDenied
	}

	return model.FailureFatal
}

func classifySSH(output string) model.FailureKind {
	switch {
	case strings.Contains(output, "permission denied"),
		strings.Contains(output, "host key verification failed"):
		return model.FailureAuth
	case strings.Contains(output, "timed out"):
		return model.FailureTimeout
	case strings.Contains(output, "connection refused"),
		strings.Contains(output, "no route to host"),
		strings.Contains(output, "could not resolve"),
		strings.Contains(output, "network is unreachable"):
		return model.FailureUnreachable
	}

	return model.FailureConnectionReset
}

func describe(code int) string {
	if desc, ok := exitDescriptions[code]; ok {
		return fmt.Sprintf("rsync exited with code %d: %s", code, desc)
	}

	return fmt.Sprintf("rsync exited with code %d", code)
}

func (t *Transferer) binary() string {
	if t.Binary == "" {
		return defaultBinary
	}

	return t.Binary
}

func (t *Transferer) waitDelay() time.Duration {
	if t.WaitDelay <= 0 {
		return defaultWaitDelay
	}

	return t.WaitDelay
}

func (t *Transferer) openLog(job model.Job) *os.File {
	if t.LogDir == "" || !job.TrackProgress {
		return nil
	}

	if err := os.MkdirAll(t.LogDir, 0755); err != nil {
		logger.Log.Warn("failed to create transfer log dir", zap.Error(err))
		return nil
	}

	name := fmt.Sprintf("%s_%s.log", job.Name, time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(t.LogDir, name))
	if err != nil {
		logger.Log.Warn("failed to create transfer log", zap.Error(err))
		return nil
	}

	return f
}

// outputTail keeps the last few non-progress output lines.
type outputTail struct {
	lines []string
}

func (o *outputTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	o.lines = append(o.lines, line)
	if len(o.lines) > tailLines {
		o.lines = o.lines[len(o.lines)-tailLines:]
	}
}

func (o *outputTail) String() string {
	return strings.Join(o.lines, "\n")
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, " \t'\"\\$") {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fail(kind model.FailureKind, detail string, err error) error {
	return model.NewRunError(model.StageTransfer, kind, detail, err)
}
