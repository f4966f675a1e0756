package cmd

import (
	"fmt"
	"rsynco/internal/config"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, s := range cfg.Settings() {
			fmt.Printf("%-20s %s\n", s.Key, s.Value)
		}
		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Change a setting in config.yaml",
	Long: "Change a setting in config.yaml. Known keys: " +
		strings.Join(config.Keys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Set(args[0], args[1]); err != nil {
			return err
		}

		file, err := config.File()
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s written to %s\n", args[0], args[1], file)
		return nil
	},
	Annotations: map[string]string{noDatabase: "true"},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
