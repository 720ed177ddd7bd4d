package cli

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kioku-app/kioku/internal/merge"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	User string
}

// NewSyncCommand creates the sync command: apply a delta file produced by
// another device's push.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync <delta-file>",
		Short: "Merge a delta file from another device",
		Long: `Merge a JSON delta file into the local store. Events union into the
ledger, intent fields reconcile last-writer-wins, and every affected item is
replayed. Applying the same file twice is a no-op.

Example:
  kioku sync --user u1 ./incoming/dev-b-000001.json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read delta file", err)
	}
	var delta merge.Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return WrapExitError(ExitCommandError, "failed to parse delta file", err)
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	rep, err := a.engine.ApplyBatch(cmd.Context(), opts.User, delta)
	if err != nil {
		return WrapExitError(ExitFailure, "merge failed", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Successf(rep,
		"applied %d events (%d duplicates), replayed %d items, %d intent writes (%d stale), %d usage rows, %d quarantined",
		rep.EventsApplied, rep.EventsDuplicate, rep.ItemsReplayed,
		rep.StatesApplied, rep.StatesStale, rep.UsageApplied, len(rep.Quarantined))
}
