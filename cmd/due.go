package cmd

import (
	"fmt"
	"os"
	"rsynco/internal/logger"
	"rsynco/internal/model"
	"rsynco/internal/scheduler"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var dueDryRun bool

var dueCmd = &cobra.Command{
	Use:   "due",
	Short: "Run every job whose schedule says it is due",
	Long: "Run every job whose schedule says it is due. Meant to be called " +
		"from cron or a systemd timer when the watch daemon is not used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		jobs, err := e.jobs.GetAll()
		if err != nil {
			return err
		}

		due, invalid := scheduler.DueJobs(jobs, time.Now())
		for _, inv := range invalid {
			logger.Log.Warn("skipping job with invalid schedule",
				zap.String("job", inv.Job.Name),
				zap.Error(inv.Err))
		}

		if len(due) == 0 {
			fmt.Println("no jobs due")
			return nil
		}

		if dueDryRun {
			for _, job := range due {
				fmt.Printf("due: %s (%s)\n", job.Name, job.Cron)
			}
			return nil
		}

		ctx, stop := signalContext()
		defer stop()

		results := make([]model.RunResult, len(due))
		var wg sync.WaitGroup
		for i, job := range due {
			wg.Go(func() {
				results[i], _ = e.runner.Run(ctx, job.Name, nil)
			})
		}
		wg.Wait()

		failed := 0
		for _, result := range results {
			if result.Failure == model.FailureLockHeld {
				fmt.Printf("- %s: already syncing, skipped\n", result.JobName)
				continue
			}
			printResult(os.Stdout, result)
			if !result.Succeeded() {
				failed++
			}
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d due jobs failed", failed, len(due))
		}

		return nil
	},
}

func init() {
	dueCmd.Flags().BoolVar(&dueDryRun, "dry-run", false, "only list the due jobs")
	rootCmd.AddCommand(dueCmd)
}
