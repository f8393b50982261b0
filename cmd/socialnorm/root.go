package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blackmichael/socialnorm/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "socialnorm",
	Short: "Normalize Twitter and Bluesky payloads into flat records",
	Long:  "Turns raw Twitter v1.1, Twitter v2 and Bluesky API payloads into flat, CSV-ready records. Payloads are read from files, fetched from the Bluesky AppView or collected from the Jetstream firehose.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		logger, err := config.NewLogger(cfg.Log)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		zap.ReplaceGlobals(logger)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
