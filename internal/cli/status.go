package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/store"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	User string
	Set  string
}

// NewStatusCommand creates the status command: list item states, or apply an
// explicit status change to one item.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [item-id]",
		Short: "Show item scheduling state, or set an explicit status",
		Long: `Without an item, list every item's scheduling state. With an item and
--set, apply an explicit status change (Ignored to suppress an item,
Learning to reactivate it) stamped with this device's logical time.

Example:
  kioku status --user u1
  kioku status word-inu --user u1 --set Ignored`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			itemID := ""
			if len(args) == 1 {
				itemID = args[0]
			}
			return runStatus(opts, cmd, itemID)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&opts.Set, "set", "", "explicit status to apply (Ignored|Learning)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command, itemID string) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Set != "" {
		if itemID == "" {
			return NewExitError(ExitCommandError, "--set requires an item ID")
		}
		var status model.Status
		if err := status.UnmarshalText([]byte(opts.Set)); err != nil {
			return WrapExitError(ExitCommandError, "invalid status", err)
		}
		state, err := a.engine.SetStatus(ctx, opts.User, itemID, status)
		if err != nil {
			return WrapExitError(ExitFailure, "status change rejected", err)
		}
		return out.Successf(state, "%s: %s", state.ItemID, state.Status)
	}

	if itemID != "" {
		state, err := a.store.GetItemState(ctx, opts.User, model.NormalizeItemID(itemID))
		if errors.Is(err, store.ErrNotFound) {
			return NewExitError(ExitFailure, fmt.Sprintf("no state for item %s", itemID))
		}
		if err != nil {
			return WrapExitError(ExitFailure, "failed to load item state", err)
		}
		return out.Successf(state, "%s: %s, %d reviews, %d lapses, next due %s",
			state.ItemID, state.Status, state.ReviewCount, state.LapseCount,
			state.NextReviewAt.Format("2006-01-02"))
	}

	states, err := a.store.ListItemStates(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list item states", err)
	}
	if opts.Format == "json" {
		return out.Success(states)
	}
	for _, st := range states {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-9s reviews=%d lapses=%d next=%s\n",
			st.ItemID, st.Status, st.ReviewCount, st.LapseCount,
			st.NextReviewAt.Format("2006-01-02"))
	}
	return nil
}
