package cmd

import (
	"fmt"
	"rsynco/internal/model"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyN   int
	historyJob string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View past runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}

		var histories []model.History
		if historyJob != "" {
			histories, err = e.history.GetByJob(historyJob, historyN)
		} else {
			histories, err = e.history.GetRecent(historyN)
		}
		if err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		for _, h := range histories {
			status := "✓"
			switch h.Outcome {
			case model.OutcomeFailed:
				status = "✗"
			case model.OutcomeCancelled:
				status = "⊘"
			}

			fmt.Printf("%s [%s] %-20s %8s %10s",
				status,
				h.FinishedAt.Format("2006-01-02 15:04:05"),
				h.JobName,
				h.Duration.Round(time.Second),
				humanize.Bytes(uint64(max(h.Bytes, 0))),
			)
			if h.Failure != "" {
				fmt.Printf("  %s at %s (%d attempts)", h.Failure, h.Stage, h.Attempts)
			}
			if h.ArchiveOutcome == model.ArchiveFailed {
				fmt.Print("  archive failed")
			}
			fmt.Println()
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	historyCmd.Flags().StringVar(&historyJob, "job", "", "only show runs of this job")
	rootCmd.AddCommand(historyCmd)
}
