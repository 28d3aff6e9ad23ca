package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	globalShowOutput      string
	globalShowFingerprint bool
)

var globalShowCmd = &cobra.Command{
	Use:   "show <credential>",
	Short: "Show the global reset of one credential",
	Long: `Show the global reset of one credential. The credential is fingerprinted
locally and never sent to the store; pass --fingerprint to look up a
fingerprint directly.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := parseFormat(globalShowOutput)
		if err != nil {
			return err
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close() // nolint:errcheck // best-effort cleanup

		fp := fingerprintArg(args[0], globalShowFingerprint)
		reset, err := s.Get(cmd.Context(), fp)
		if err != nil {
			return err
		}
		if reset.IsZero() && format == "table" {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "No global rate limit recorded for %s\n", fp)
			return err
		}
		return writeEntries(cmd.OutOrStdout(), format, []globalEntry{newGlobalEntry(fp, reset, time.Now())})
	},
}

func init() {
	globalShowCmd.Flags().StringVar(&globalShowOutput, "output-format", "table", "Output format: table|json")
	globalShowCmd.Flags().BoolVar(&globalShowFingerprint, "fingerprint", false, "Treat the argument as a fingerprint")
}
