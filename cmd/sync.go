package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push buffered activity records to the collector now",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := buffer.New(logger.Named("buffer"))
		if err != nil {
			return err
		}

		syn := syncer.New(logger.Named("syncer"), buf, clientFor(cfg))
		res, err := syn.Sync(cmd.Context())
		if errors.Is(err, syncer.ErrNoCredentials) {
			return fmt.Errorf("no API key configured; run 'anolog login' first")
		}
		if err != nil {
			return err
		}

		if res.Saved == 0 {
			cmd.Println("Nothing to sync.")
			return nil
		}
		cmd.Printf("Synced %d records in %d groups.\n", res.Saved, res.Grouped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
