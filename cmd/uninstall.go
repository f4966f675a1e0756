package cmd

import (
	"fmt"
	"rsynco/internal/autostart"

	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the daemon from autostart",
	RunE: func(cmd *cobra.Command, args []string) error {
		as := autostart.New()

		if installed, err := as.IsInstalled(); err != nil {
			return err
		} else if !installed {
			fmt.Println("nothing to remove, autostart is not set up")
			return nil
		}

		if err := as.Uninstall(); err != nil {
			return fmt.Errorf("failed to remove autostart: %w", err)
		}

		if unit, ok := as.(*autostart.Systemd); ok {
			fmt.Printf("disabled and removed %s\n", unit.Path())
		}
		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}
