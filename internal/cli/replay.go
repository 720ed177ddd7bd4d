package cli

import (
	"github.com/spf13/cobra"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	User string
}

// NewReplayCommand creates the replay command: force a full re-derivation of
// cached state from the ledger.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild all derived state from the event ledger",
		Long: `Discard cached scheduling state and recompute it from the full review
history. Safe to run at any time; the result is identical whenever the
ledger is.

Example:
  kioku replay --user u1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	n, err := a.engine.ReplayUser(cmd.Context(), opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Successf(map[string]int{"items_replayed": n}, "replayed %d items", n)
}
