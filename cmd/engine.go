package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"rsynco/internal/lock"
	"rsynco/internal/repository"
	"rsynco/internal/syncer"
	"rsynco/internal/syncer/archive"
	"rsynco/internal/syncer/rsync"
	"rsynco/internal/syncer/sshcheck"
	"syscall"
)

// engine bundles the stores and the runner built from the loaded config.
type engine struct {
	jobs     *repository.JobRepository
	history  *repository.HistoryRepository
	locks    *lock.Manager
	archiver *archive.Archiver
	runner   *syncer.Runner
	catalog  *syncer.Catalog
}

func newEngine() (*engine, error) {
	locks, err := lock.NewManager(cfg.LockDir, cfg.LockWait)
	if err != nil {
		return nil, err
	}

	jobs := repository.NewJobRepository(database)
	history := repository.NewHistoryRepository(database)
	archiver := archive.New(cfg.TarPath)

	transferer := rsync.New(cfg.RsyncPath, cfg.StallTimeout)
	transferer.LogDir = filepath.Join(cfg.LogDir, "transfers")

	runner := syncer.NewRunner(syncer.Options{
		Jobs:       jobs,
		History:    history,
		Locks:      locks,
		Checker:    sshcheck.New(),
		Transferer: transferer,
		Archiver:   archiver,
		Policy:     cfg.Retry.Policy(),
	})

	return &engine{
		jobs:     jobs,
		history:  history,
		locks:    locks,
		archiver: archiver,
		runner:   runner,
		catalog:  syncer.NewCatalog(jobs, locks, archiver),
	}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM so runs are recorded as
// interrupted instead of being killed mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
