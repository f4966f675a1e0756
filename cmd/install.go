package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"rsynco/internal/autostart"

	"github.com/spf13/cobra"
)

var installPrint bool

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Run the daemon automatically after login",
	RunE: func(cmd *cobra.Command, args []string) error {
		execPath, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to get executable path: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}

		as := autostart.New()
		unit, isSystemd := as.(*autostart.Systemd)

		if installPrint {
			if !isSystemd {
				return fmt.Errorf("autostart is not supported on this platform")
			}
			rendered, err := unit.Render(execPath)
			if err != nil {
				return err
			}
			fmt.Print(rendered)
			return nil
		}

		if err := as.Install(execPath); err != nil {
			return err
		}

		if isSystemd {
			fmt.Printf("installed %s, daemon enabled and started\n", unit.Path())
		}
		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

func init() {
	installCmd.Flags().BoolVar(&installPrint, "print", false, "print the service unit instead of installing it")
	rootCmd.AddCommand(installCmd)
}
