package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/kioku-app/kioku/internal/model"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/store"
)

// GateOptions holds flags for the gate command.
type GateOptions struct {
	*RootOptions
	User    string
	Consume bool
}

// gateStatus is the JSON payload for the gate command.
type gateStatus struct {
	Tier          string `json:"tier"`
	SchedulerMode string `json:"scheduler_mode"`
	ArticlesUsed  int    `json:"articles_used"`
	ArticleLimit  int    `json:"article_limit"`
	Allowed       bool   `json:"allowed"`
}

// NewGateCommand creates the gate command: inspect or consume the metered
// feature quota.
func NewGateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Show entitlement and quota state",
		Long: `Show the user's tier, scheduler mode, and article-generation quota for
the current window. With --consume, spend one unit of the quota; exits
nonzero when the quota is exhausted.

Example:
  kioku gate --user u1
  kioku gate --user u1 --consume`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().BoolVar(&opts.Consume, "consume", false, "consume one unit of the article quota")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runGate(opts *GateOptions, cmd *cobra.Command) error {
	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	if opts.Consume {
		if err := a.engine.AuthorizeArticle(ctx, opts.User); err != nil {
			if rank.IsQuotaExceeded(err) {
				_ = out.Error("QUOTA_EXCEEDED", err.Error(), nil)
				return NewExitError(ExitFailure, "quota exceeded")
			}
			return WrapExitError(ExitFailure, "gate check failed", err)
		}
		return out.Successf(map[string]bool{"consumed": true}, "article generation authorized")
	}

	p, err := a.store.GetProfile(ctx, opts.User)
	if errors.Is(err, store.ErrNotFound) {
		p = model.NewUserProfile(opts.User)
	} else if err != nil {
		return WrapExitError(ExitFailure, "failed to load profile", err)
	}

	entry, err := a.store.GetUsage(ctx, opts.User, rank.FeatureArticleGeneration)
	if errors.Is(err, store.ErrNotFound) {
		entry = model.UsageLedgerEntry{UserID: opts.User, Feature: rank.FeatureArticleGeneration}
	} else if err != nil {
		return WrapExitError(ExitFailure, "failed to load usage", err)
	}

	gate := rank.NewGate(a.cfg.Limits)
	d := gate.CanGenerateArticle(p.Tier, entry, a.engine.Now())
	mode, err := a.engine.SchedulerMode(ctx, opts.User)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to derive scheduler mode", err)
	}

	limit := a.cfg.Limits.ArticlesPerWindow
	if limit == 0 {
		limit = rank.DefaultArticleLimit
	}
	status := gateStatus{
		Tier:          p.Tier.String(),
		SchedulerMode: mode.String(),
		ArticlesUsed:  d.Entry.Count,
		ArticleLimit:  limit,
		Allowed:       d.Allowed,
	}
	return out.Successf(status, "tier %s, scheduler %s, articles %d used this window, allowed=%t",
		status.Tier, status.SchedulerMode, status.ArticlesUsed, status.Allowed)
}
