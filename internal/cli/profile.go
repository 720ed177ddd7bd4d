package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

// ProfileOptions holds flags for the profile command.
type ProfileOptions struct {
	*RootOptions
	User     string
	Suppress string
	Restore  string
	Topic    string
	Weight   float64
}

// NewProfileCommand creates the profile command: show the user profile, or
// record an explicit preference (suppress an item, weight a topic).
func NewProfileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProfileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show the user profile, or record a preference",
		Long: `Without flags, show the user's profile: proficiency signals, tier, topic
weights, and suppressed items. With --suppress or --restore, exclude an item
from (or return it to) content selection. With --topic and --weight, record a
topic preference; weight 0 removes it. Preferences are stamped with this
device's logical time and merge last-writer-wins.

Example:
  kioku profile --user u1
  kioku profile --user u1 --suppress word-inu
  kioku profile --user u1 --topic travel --weight 0.8`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfile(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&opts.Suppress, "suppress", "", "item ID to suppress")
	cmd.Flags().StringVar(&opts.Restore, "restore", "", "item ID to un-suppress")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic to weight (requires --weight)")
	cmd.Flags().Float64Var(&opts.Weight, "weight", 0, "topic weight in [0, 1]; 0 removes the topic")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runProfile(opts *ProfileOptions, cmd *cobra.Command) error {
	if opts.Suppress != "" && opts.Restore != "" {
		return NewExitError(ExitCommandError, "--suppress and --restore are mutually exclusive")
	}
	if opts.Weight < 0 || opts.Weight > 1 {
		return NewExitError(ExitCommandError, "--weight must be in [0, 1]")
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Suppress != "" {
		p, err := a.engine.SuppressItem(ctx, opts.User, opts.Suppress, true)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to suppress item", err)
		}
		return out.Successf(p, "suppressed %s (%d total)", opts.Suppress, len(p.SuppressedItems))
	}
	if opts.Restore != "" {
		p, err := a.engine.SuppressItem(ctx, opts.User, opts.Restore, false)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to restore item", err)
		}
		return out.Successf(p, "restored %s (%d suppressed)", opts.Restore, len(p.SuppressedItems))
	}
	if opts.Topic != "" {
		p, err := a.engine.SetTopicWeight(ctx, opts.User, opts.Topic, opts.Weight)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to set topic weight", err)
		}
		return out.Successf(p, "topic %s = %.2f", opts.Topic, p.TopicWeights[opts.Topic])
	}

	p, err := a.engine.Profile(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load profile", err)
	}
	if opts.Format == "json" {
		return out.Success(p)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "user: %s  tier: %s\n", p.UserID, p.Tier)
	fmt.Fprintf(w, "rank: %.3f  easy-ratio: %.3f  reviews: %d\n", p.Rank, p.RecentEasyRatio, p.CycleCount)
	suppressed := make([]string, 0, len(p.SuppressedItems))
	for id := range p.SuppressedItems {
		suppressed = append(suppressed, id)
	}
	sort.Strings(suppressed)
	for _, id := range suppressed {
		fmt.Fprintf(w, "suppressed: %s\n", id)
	}
	topics := make([]string, 0, len(p.TopicWeights))
	for topic := range p.TopicWeights {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		fmt.Fprintf(w, "topic: %-16s %.2f\n", topic, p.TopicWeights[topic])
	}
	return nil
}
