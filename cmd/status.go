package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
)

var (
	statusLabelStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("33")).
				Bold(true)

	statusTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	statusDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked time and the state of the local record store",
	RunE: func(cmd *cobra.Command, args []string) error {
		buf, err := buffer.New(logger.Named("buffer"))
		if err != nil {
			return err
		}

		today := time.Now().Format(buffer.DateFormat)
		line := func(label string, value string) {
			cmd.Printf("%s %s\n", statusLabelStyle.Render(fmt.Sprintf("%-12s", label)), value)
		}

		line("Today:", statusTimeStyle.Render(buf.TimeOn(today).String()))
		line("All time:", statusTimeStyle.Render(buf.TotalTime().String()))
		line("Unsynced:", fmt.Sprintf("%d records", buf.UnsyncedCount()))
		if last, ok := buf.LastCreatedAt(); ok {
			line("Last entry:", humanize.Time(last))
		} else {
			line("Last entry:", statusDimStyle.Render("(none)"))
		}
		line("Store:", statusDimStyle.Render(buf.Path()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
