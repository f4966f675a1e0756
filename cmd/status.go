package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"rsynco/internal/daemon"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(daemonURL("/status"))
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}

		defer func(Body io.ReadCloser) {
			_ = Body.Close()
		}(resp.Body)

		var status daemon.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode status response: %w", err)
		}

		fmt.Printf("daemon pid %d, up %s\n", status.PID, time.Since(status.StartedAt).Round(time.Second))
		fmt.Printf("runs recorded: %d (%d ok, %d failed, %d interrupted)\n",
			status.Stats.Total, status.Stats.Success, status.Stats.Failed, status.Stats.Cancelled)

		if len(status.Runs) == 0 {
			fmt.Println("no active runs")
			return nil
		}

		fmt.Printf("%-20s %-9s %-8s %-10s %-12s %s\n",
			"JOB", "TRIGGER", "PROGRESS", "BYTES", "RATE", "RUNNING FOR")
		for _, run := range status.Runs {
			progress := fmt.Sprintf("%d%%", run.Percent)
			if run.Spinner {
				progress += "*"
			}

			fmt.Printf("%-20s %-9s %-8s %-10s %-12s %s\n",
				run.JobName,
				run.Trigger,
				progress,
				humanize.Bytes(uint64(max(run.Bytes, 0))),
				orDash(run.Rate),
				time.Since(run.StartedAt).Round(time.Second))
		}

		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
