package cmd

import (
	"fmt"
	"os"
	"rsynco/internal/config"
	"rsynco/internal/db"
	"rsynco/internal/logger"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

// noDatabase marks commands that only talk to the daemon or the config file.
const noDatabase = "no-database"

var (
	cfg      *config.Config
	database *gorm.DB
	debug    bool
)

var rootCmd = &cobra.Command{
	Use:           "rsynco",
	Short:         "Scheduled rsync mirrors of remote directories",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}

		logger.Init(debug, cfg.LogDir)

		if cmd.Annotations[noDatabase] == "" {
			database, err = db.Open(cfg.DBPath)
			if err != nil {
				return err
			}
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			_ = db.Close(database)
		}
		logger.Sync()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sync()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func daemonURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", cfg.DaemonPort, path)
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
}
