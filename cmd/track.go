package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdr.dev/slog/v3"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/config"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/engine"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/host"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/syncer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/tracker"
)

var trackWatchDir string

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run the tracking engine, reading editor events from stdin",
	Long: `Track reads newline-delimited JSON editor events from stdin, accrues
active time per file, and periodically flushes records to the local store
and the collector. It runs until stdin closes or it receives SIGINT or
SIGTERM, then flushes and attempts a final sync before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// A machine identity is assigned the first time tracking runs
		// with credentials present.
		if cfg.APIKey != "" && cfg.MachineID == "" {
			if err := cfg.Save(); err != nil {
				return fmt.Errorf("assigning machine id: %w", err)
			}
		}

		acc := tracker.New(logger.Named("tracker"))
		buf, err := buffer.New(logger.Named("buffer"))
		if err != nil {
			return err
		}
		syn := syncer.New(logger.Named("syncer"), buf, clientFor(cfg))
		eng := engine.New(ctx, logger.Named("engine"), acc, buf, syn)

		// Credential edits take effect without restarting the daemon.
		go func() {
			err := config.Watch(ctx, logger.Named("config"), func(next config.Config) {
				syn.SetClient(clientFor(next))
				eng.RequestSync()
			})
			if err != nil {
				logger.Warn(ctx, "config watcher stopped", slog.Error(err))
			}
		}()

		if trackWatchDir != "" {
			go func() {
				err := host.Watch(ctx, logger.Named("watch"), trackWatchDir, eng)
				if err != nil {
					logger.Warn(ctx, "workspace watcher stopped", slog.Error(err))
				}
			}()
		}

		feedDone := make(chan error, 1)
		go func() {
			feedDone <- host.Feed(ctx, logger.Named("feed"), cmd.InOrStdin(), eng)
		}()

		logger.Info(ctx, "tracking started",
			slog.F("store", buf.Path()),
			slog.F("credentials", cfg.APIKey != ""),
		)

		select {
		case <-ctx.Done():
		case err := <-feedDone:
			if err != nil {
				logger.Warn(ctx, "event feed ended", slog.Error(err))
			}
		}

		logger.Info(ctx, "shutting down")
		return eng.Close()
	},
}

func init() {
	trackCmd.Flags().StringVarP(&trackWatchDir, "watch", "w", "", "Also derive activity from file changes under this directory")
	rootCmd.AddCommand(trackCmd)
}
