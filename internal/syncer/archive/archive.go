// Package archive compresses a job's destination directory into a sibling
// tarball and restores it again, using the external tar binary.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/util"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	Extension        = ".tar.gz"
	defaultBinary    = "tar"
	defaultWaitDelay = 10 * time.Second
)

type Archiver struct {
	Binary    string
	WaitDelay time.Duration
}

func New(binary string) *Archiver {
	return &Archiver{Binary: binary}
}

// PathFor is the archive location for a destination directory.
func PathFor(dest string) string {
	return strings.TrimRight(dest, string(filepath.Separator)) + Extension
}

// State reports what is on disk for dest. An archive wins over a directory
// left behind by an interrupted compression.
func State(dest string) model.CompressionState {
	if util.Exists(PathFor(dest)) {
		return model.StateCompressed
	}
	if util.Exists(dest) {
		return model.StateUncompressed
	}

	return model.StateNone
}

// Compress packs dest into its archive and removes the directory. The
// archive is written under a temporary name and renamed into place, so a
// failed run never leaves a truncated archive behind.
func (a *Archiver) Compress(ctx context.Context, dest string) error {
	dest = filepath.Clean(dest)
	info, err := os.Stat(dest)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", dest, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dest)
	}

	archivePath := PathFor(dest)
	tmp := archivePath + ".tmp"

	if err := a.run(ctx, "-czf", tmp, "-C", filepath.Dir(dest), filepath.Base(dest)); err != nil {
		_ = util.RemoveIfExists(tmp)
		return fmt.Errorf("failed to compress %s: %w", dest, err)
	}

	if err := os.Rename(tmp, archivePath); err != nil {
		_ = util.RemoveIfExists(tmp)
		return fmt.Errorf("failed to rename archive: %w", err)
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove %s after compression: %w", dest, err)
	}

	logger.Log.Debug("compressed",
		zap.String("dest", dest),
		zap.String("archive", archivePath))

	return nil
}

// Extract unpacks the archive of dest next to it and removes the archive.
// It is a no-op when no archive exists.
func (a *Archiver) Extract(ctx context.Context, dest string) error {
	dest = filepath.Clean(dest)
	archivePath := PathFor(dest)
	if !util.Exists(archivePath) {
		return nil
	}

	if err := a.run(ctx, "-xzf", archivePath, "-C", filepath.Dir(dest)); err != nil {
		return fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}

	if err := util.RemoveIfExists(archivePath); err != nil {
		return err
	}

	logger.Log.Debug("extracted",
		zap.String("dest", dest),
		zap.String("archive", archivePath))

	return nil
}

// List returns the paths stored in the archive of dest, relative to dest.
// Directories carry a trailing slash.
func (a *Archiver) List(ctx context.Context, dest string) ([]string, error) {
	archivePath := PathFor(filepath.Clean(dest))
	out, err := a.output(ctx, "-tzf", archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", archivePath, err)
	}

	var entries []string
	for line := range strings.Lines(string(out)) {
		line = strings.TrimPrefix(strings.TrimSpace(line), "./")
		_, rel, found := strings.Cut(line, "/")
		if !found || rel == "" {
			continue
		}
		entries = append(entries, rel)
	}

	return entries, nil
}

func (a *Archiver) run(ctx context.Context, args ...string) error {
	_, err := a.output(ctx, args...)
	return err
}

func (a *Archiver) output(ctx context.Context, args ...string) ([]byte, error) {
	binary := a.Binary
	if binary == "" {
		binary = defaultBinary
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = a.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return nil, fmt.Errorf("%s: %w", msg, err)
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, fmt.Errorf("%s not found: %w", binary, err)
	}

	return nil, err
}
