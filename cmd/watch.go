package cmd

import (
	"context"
	"fmt"
	"net/http"
	"rsynco/internal/config"
	"rsynco/internal/daemon"
	"rsynco/internal/logger"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start the daemon that runs jobs on their schedule",
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if daemonRunning() {
		return fmt.Errorf("daemon already running on port %d", cfg.DaemonPort)
	}

	e, err := newEngine()
	if err != nil {
		return err
	}

	jobs, err := e.jobs.GetAll()
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		logger.Log.Info("no jobs configured, use 'rsynco job add' to add one")
	}

	ctx, stop := signalContext()
	defer stop()

	manager := daemon.NewJobManager(e.runner, e.jobs, cfg.TickInterval)
	srv := daemon.NewServer(manager, e.jobs, e.history, cfg.DaemonPort)

	watcher, err := config.NewWatcher(func(next *config.Config) {
		e.runner.SetPolicy(next.Retry.Policy())
		manager.SetTickInterval(next.TickInterval)
		logger.Log.Info("config reloaded",
			zap.Int("max_attempts", next.Retry.MaxAttempts),
			zap.Duration("tick_interval", next.TickInterval))
	}, func(err error) {
		logger.Log.Warn("config reload failed", zap.Error(err))
	})
	if err != nil {
		logger.Log.Warn("config hot reload disabled", zap.Error(err))
	} else if err := watcher.Start(); err != nil {
		logger.Log.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer func() {
			_ = watcher.Close()
		}()
	}

	manager.Start()
	srv.Start()

	logger.Log.Info("rsynco daemon started",
		zap.Int("jobs", len(jobs)),
		zap.Int("port", cfg.DaemonPort),
		zap.Duration("tick", cfg.TickInterval))

	select {
	case <-ctx.Done():
		logger.Log.Info("shutting down, waiting for active runs")
	case <-srv.StopCh():
		logger.Log.Info("stop requested via API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func daemonRunning() bool {
	client := http.Client{Timeout: time.Second}
	resp, err := client.Get(daemonURL("/status"))
	if err != nil {
		return false
	}
	_ = resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
