package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	globalResetAll         bool
	globalResetYes         bool
	globalResetDryRun      bool
	globalResetFingerprint bool
)

var globalResetCmd = &cobra.Command{
	Use:   "reset [credential]",
	Short: "Clear stored global resets",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalResetAll == (len(args) == 1) {
			return errors.New("pass either a credential or --all")
		}
		if globalResetAll && !globalResetYes && !globalResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		s, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer s.Close() // nolint:errcheck // best-effort cleanup

		var keys []string
		if globalResetAll {
			resets, err := s.List(cmd.Context())
			if err != nil {
				return err
			}
			for fp := range resets {
				keys = append(keys, fp)
			}
		} else {
			keys = []string{fingerprintArg(args[0], globalResetFingerprint)}
		}

		if globalResetDryRun {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Would reset %d global rate limit entr(ies)\n", len(keys))
			return err
		}

		for _, fp := range keys {
			if err := s.Reset(cmd.Context(), fp); err != nil {
				return fmt.Errorf("reset %s: %w", fp, err)
			}
			logger.Debug("reset global rate limit", zap.String("fingerprint", fp))
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "Reset %d global rate limit entr(ies)\n", len(keys))
		return err
	},
}

func init() {
	globalResetCmd.Flags().BoolVar(&globalResetAll, "all", false, "Reset every credential")
	globalResetCmd.Flags().BoolVar(&globalResetYes, "yes", false, "Confirm destructive reset")
	globalResetCmd.Flags().BoolVar(&globalResetDryRun, "dry-run", false, "Show what would be reset")
	globalResetCmd.Flags().BoolVar(&globalResetFingerprint, "fingerprint", false, "Treat the argument as a fingerprint")
}
