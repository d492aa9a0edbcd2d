package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/buffer"
	"github.com/analog-wakatime/Anolog-WakaTme-Plugin/internal/config"
)

// executeCommand runs the root command with args and returns everything it
// wrote to stdout and stderr.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	return executeCommandWithInput(root, "", args...)
}

// executeCommandWithInput is executeCommand with a canned stdin.
func executeCommandWithInput(root *cobra.Command, input string, args ...string) (output string, err error) {
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetIn(strings.NewReader(input))
	root.SetArgs(args)
	_, err = root.ExecuteC()
	return buf.String(), err
}

// isolateEnv points config and the record store at temp dirs so commands
// never touch real state.
func isolateEnv(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, "data"))
	t.Setenv(config.EnvAPIKey, "")
	t.Setenv(config.EnvAPIURL, "")
	return tmp
}

// writeStore writes records straight into the default store location.
func writeStore(t *testing.T, records []buffer.Record) string {
	t.Helper()
	path := filepath.Join(os.Getenv("XDG_DATA_HOME"), "anolog", "records.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// readStore loads the default store location back.
func readStore(t *testing.T) []buffer.Record {
	t.Helper()
	path := filepath.Join(os.Getenv("XDG_DATA_HOME"), "anolog", "records.json")
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	var records []buffer.Record
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("decode store: %v", err)
	}
	return records
}
