package cmd

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	globalListOutput     string
	globalListActiveOnly bool
)

var globalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored global resets",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(globalListOutput)
		if err != nil {
			return err
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close() // nolint:errcheck // best-effort cleanup

		resets, err := s.List(cmd.Context())
		if err != nil {
			return err
		}

		now := time.Now()
		entries := make([]globalEntry, 0, len(resets))
		for fp, reset := range resets {
			e := newGlobalEntry(fp, reset, now)
			if globalListActiveOnly && !e.Active {
				continue
			}
			entries = append(entries, e)
		}
		return writeEntries(cmd.OutOrStdout(), format, entries)
	},
}

func init() {
	globalListCmd.Flags().StringVar(&globalListOutput, "output-format", "table", "Output format: table|json")
	globalListCmd.Flags().BoolVar(&globalListActiveOnly, "active", false, "Only list resets that have not passed yet")
}
