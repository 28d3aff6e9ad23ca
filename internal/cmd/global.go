package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/ryhazerus/restbucket"
)

var globalCmd = &cobra.Command{
	Use:   "global",
	Short: "Manage shared account-wide rate limit state",
}

// globalEntry is one credential's stored reset.
type globalEntry struct {
	Fingerprint string    `json:"fingerprint"`
	ResetAt     time.Time `json:"reset_at"`
	Active      bool      `json:"active"`
	RetryAfter  string    `json:"retry_after,omitempty"`
}

func newGlobalEntry(fingerprint string, reset, now time.Time) globalEntry {
	e := globalEntry{Fingerprint: fingerprint, ResetAt: reset.UTC(), Active: reset.After(now)}
	if e.Active {
		e.RetryAfter = reset.Sub(now).Round(time.Millisecond).String()
	}
	return e
}

// fingerprintArg resolves a credential argument to its store key.
func fingerprintArg(arg string, isFingerprint bool) string {
	arg = strings.TrimSpace(arg)
	if isFingerprint {
		return arg
	}
	return restbucket.Fingerprint(arg)
}

func parseFormat(format string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "table", "json":
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}
}

func writeEntries(w io.Writer, format string, entries []globalEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Fingerprint < entries[j].Fingerprint })

	if format == "json" {
		payload, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "(no stored global rate limit state)")
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Fingerprint", "Reset At", "Status", "Retry After"})
	for _, e := range entries {
		status := "expired"
		if e.Active {
			status = "active"
		}
		retry := e.RetryAfter
		if retry == "" {
			retry = "-"
		}
		t.AppendRow(table.Row{e.Fingerprint, e.ResetAt.Format(time.RFC3339Nano), status, retry})
	}
	t.Render()
	return nil
}

func init() {
	globalCmd.AddCommand(globalListCmd)
	globalCmd.AddCommand(globalShowCmd)
	globalCmd.AddCommand(globalResetCmd)
	rootCmd.AddCommand(globalCmd)
}
