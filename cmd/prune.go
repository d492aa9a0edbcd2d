package cmd

import (
	"github.com/spf13/cobra"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete synced records older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := buffer.New(logger.Named("buffer"))
		if err != nil {
			return err
		}

		removed, err := buf.Cleanup()
		if err != nil {
			return err
		}
		if removed == 0 {
			cmd.Println("Nothing to prune.")
			return nil
		}
		cmd.Printf("Removed %d expired records.\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}
