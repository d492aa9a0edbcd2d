package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cdr.dev/slog/v3"
	"cdr.dev/slog/v3/sloggers/sloghuman"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/api"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/config"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is the root logger for all subcommands.
var logger slog.Logger

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "anolog",
	Short: "Record editor activity and sync it to an Anolog collector",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = slog.Make(sloghuman.Sink(cmd.ErrOrStderr()))
		if verbose {
			logger = logger.Leveled(slog.LevelDebug)
		} else {
			logger = logger.Leveled(slog.LevelInfo)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
	SilenceUsage: true,
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// clientFor builds a collector client from a config, or nil when no API
// key is set.
func clientFor(c config.Config) *api.Client {
	if c.APIKey == "" {
		return nil
	}
	return api.NewClient(c.APIURL, c.APIKey, c.MachineID)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}
