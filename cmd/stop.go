package cmd

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopWait    bool
	stopTimeout time.Duration
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask the daemon to shut down",
	Long: "Ask the daemon to shut down. Active runs are interrupted and " +
		"recorded as CANCELLED before the daemon exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := http.Client{Timeout: 5 * time.Second}
		resp, err := client.Post(daemonURL("/stop"), "application/json", nil)
		if err != nil {
			return fmt.Errorf("daemon not running: %w", err)
		}
		_ = resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("daemon refused to stop: %s", resp.Status)
		}

		if !stopWait {
			fmt.Println("stop requested")
			return nil
		}

		deadline := time.Now().Add(stopTimeout)
		for daemonRunning() {
			if time.Now().After(deadline) {
				return fmt.Errorf("daemon still running after %s", stopTimeout)
			}
			time.Sleep(250 * time.Millisecond)
		}

		fmt.Println("daemon stopped")
		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

func init() {
	stopCmd.Flags().BoolVarP(&stopWait, "wait", "w", false, "wait until the daemon has exited")
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 45*time.Second, "how long --wait waits")
	rootCmd.AddCommand(stopCmd)
}
