package syncer

import (
	"context"
	"fmt"
	"rsynco/internal/lock"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/syncer/archive"
	"rsynco/internal/util"

	"go.uber.org/zap"
)

type CatalogStore interface {
	Add(job *model.Job) error
	Get(name string) (model.Job, error)
	Save(job *model.Job) error
	Delete(name string) error
}

// Catalog changes job definitions together with the data they own on disk.
// Every change holds the job's lock so it never races a run.
type Catalog struct {
	store    CatalogStore
	locks    *lock.Manager
	archiver Archiver
}

func NewCatalog(store CatalogStore, locks *lock.Manager, archiver Archiver) *Catalog {
	return &Catalog{store: store, locks: locks, archiver: archiver}
}

func (c *Catalog) Add(cfg model.JobConfig) (model.Job, error) {
	job, err := model.NewJob(cfg)
	if err != nil {
		return model.Job{}, err
	}

	job.CompressionState = archive.State(job.Destination())
	if err := c.store.Add(&job); err != nil {
		return model.Job{}, err
	}

	return job, nil
}

// Edit applies change to the job's configuration. A new host or remote path
// starts the run history over; a new local path moves the synced data along;
// toggling compression packs or unpacks what is on disk.
func (c *Catalog) Edit(ctx context.Context, name string, change func(*model.JobConfig)) (model.Job, error) {
	l, err := c.locks.Acquire(ctx, name)
	if err != nil {
		return model.Job{}, err
	}
	defer l.Release()

	old, err := c.store.Get(name)
	if err != nil {
		return model.Job{}, err
	}

	job := old
	cfg := job.Config()
	change(&cfg)
	if err := job.Apply(cfg); err != nil {
		return old, err
	}

	sourceChanged := job.Host != old.Host || job.RemotePath != old.RemotePath
	if sourceChanged {
		job.ResetRunState()
	}

	oldDest, newDest := old.Destination(), job.Destination()
	if oldDest != newDest && !sourceChanged {
		if err := c.move(oldDest, newDest); err != nil {
			return old, err
		}
	}

	if err := c.toggleCompression(ctx, job.Compress, old.Compress, newDest); err != nil {
		job.Compress = old.Compress
		job.CompressionState = archive.State(newDest)
		if saveErr := c.store.Save(&job); saveErr != nil {
			logger.Log.Error("failed to save job", zap.String("job", name), zap.Error(saveErr))
		}
		return job, err
	}

	job.CompressionState = archive.State(newDest)
	if err := c.store.Save(&job); err != nil {
		return old, fmt.Errorf("failed to save job: %w", err)
	}

	logger.Log.Info("job updated",
		zap.String("job", name),
		zap.Bool("reset", sourceChanged),
		zap.String("dest", newDest))

	return job, nil
}

func (c *Catalog) move(oldDest, newDest string) error {
	if err := util.Move(oldDest, newDest); err != nil {
		return err
	}

	return util.Move(archive.PathFor(oldDest), archive.PathFor(newDest))
}

func (c *Catalog) toggleCompression(ctx context.Context, enabled, was bool, dest string) error {
	switch {
	case enabled && !was && archive.State(dest) == model.StateUncompressed:
		return c.archiver.Compress(ctx, dest)
	case !enabled && was:
		return c.archiver.Extract(ctx, dest)
	}

	return nil
}

// Remove deletes the job. With removeFiles its synced directory and archive
// go too.
func (c *Catalog) Remove(ctx context.Context, name string, removeFiles bool) error {
	l, err := c.locks.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer l.Release()

	job, err := c.store.Get(name)
	if err != nil {
		return err
	}

	if err := c.store.Delete(name); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	if !removeFiles {
		return nil
	}

	dest := job.Destination()
	if err := util.RemoveAllIfExists(dest); err != nil {
		return err
	}

	return util.RemoveIfExists(archive.PathFor(dest))
}

// Compress packs the job's synced directory now, independent of its
// compression setting.
func (c *Catalog) Compress(ctx context.Context, name string) (model.CompressionState, error) {
	return c.convert(ctx, name, model.StateUncompressed, c.archiver.Compress)
}

// Extract unpacks the job's archive now.
func (c *Catalog) Extract(ctx context.Context, name string) (model.CompressionState, error) {
	return c.convert(ctx, name, model.StateCompressed, c.archiver.Extract)
}

func (c *Catalog) convert(ctx context.Context, name string, from model.CompressionState, op func(context.Context, string) error) (model.CompressionState, error) {
	l, err := c.locks.Acquire(ctx, name)
	if err != nil {
		return "", err
	}
	defer l.Release()

	job, err := c.store.Get(name)
	if err != nil {
		return "", err
	}

	dest := job.Destination()
	if archive.State(dest) == from {
		if err := op(ctx, dest); err != nil {
			return archive.State(dest), err
		}
	}

	job.CompressionState = archive.State(dest)
	if err := c.store.Save(&job); err != nil {
		return job.CompressionState, fmt.Errorf("failed to save job: %w", err)
	}

	return job.CompressionState, nil
}
