package cmd

import (
	"errors"
	"fmt"
	"os"
	"rsynco/internal/model"
	"rsynco/internal/retry"

	"github.com/spf13/cobra"
)

var (
	syncQuiet   bool
	syncNoRetry bool
)

var syncCmd = &cobra.Command{
	Use:   "sync [name]",
	Short: "Run a job once now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		e.runner.SetPolicy(syncPolicy(e.runner.Policy(), syncNoRetry))

		ctx, stop := signalContext()
		defer stop()

		line := newProgressLine(os.Stderr, args[0])
		onProgress := line.Update
		if syncQuiet {
			onProgress = nil
		}

		result, err := e.runner.Run(ctx, args[0], onProgress)
		line.Done()

		if errors.Is(err, model.ErrLockHeld) {
			return fmt.Errorf("job %s is already syncing", args[0])
		}
		if errors.Is(err, model.ErrJobNotFound) {
			return err
		}

		printResult(os.Stdout, result)
		if !result.Succeeded() {
			return fmt.Errorf("sync of %s failed", args[0])
		}

		return err
	},
}

// syncPolicy limits a run to one attempt per stage when retries are off.
func syncPolicy(base retry.Policy, noRetry bool) retry.Policy {
	if noRetry {
		base.MaxAttempts = 1
	}
	return base
}

func init() {
	syncCmd.Flags().BoolVarP(&syncQuiet, "quiet", "q", false, "do not show progress")
	syncCmd.Flags().BoolVar(&syncNoRetry, "no-retry", false, "give up after the first failed attempt")
	rootCmd.AddCommand(syncCmd)
}
