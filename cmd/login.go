package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/api"
)

var (
	loginAPIURL   string
	loginNoVerify bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the API key used to push activity to the collector",
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readAPIKey(cmd)
		if err != nil {
			return fmt.Errorf("reading API key: %w", err)
		}
		if key == "" {
			return fmt.Errorf("no API key entered")
		}

		next := cfg
		next.APIKey = key
		if loginAPIURL != "" {
			next.APIURL = loginAPIURL
		}

		if !loginNoVerify {
			client := api.NewClient(next.APIURL, next.APIKey, next.MachineID)
			if err := client.ValidateKey(cmd.Context()); err != nil {
				return fmt.Errorf("key rejected by %s: %w", next.APIURL, err)
			}
		}

		if err := next.Save(); err != nil {
			return err
		}
		cmd.Println("Credentials saved. Run 'anolog track' to start recording.")
		return nil
	},
}

// readAPIKey prompts with echo disabled when stdin is a terminal, and falls
// back to a plain line read when input is piped.
func readAPIKey(cmd *cobra.Command) (string, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(f.Fd()) {
		fmt.Fprint(cmd.OutOrStdout(), "API key: ")
		raw, err := term.ReadPassword(f.Fd())
		fmt.Fprintln(cmd.OutOrStdout())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().StringVar(&loginAPIURL, "api-url", "", "Collector base URL (overrides config)")
	loginCmd.Flags().BoolVar(&loginNoVerify, "no-verify", false, "Skip validating the key against the collector")
	rootCmd.AddCommand(loginCmd)
}
