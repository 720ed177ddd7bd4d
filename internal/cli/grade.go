package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kioku-app/kioku/internal/engine"
	"github.com/kioku-app/kioku/internal/rank"
	"github.com/kioku-app/kioku/internal/srs"
)

// GradeOptions holds flags for the grade command.
type GradeOptions struct {
	*RootOptions
	User     string
	Band     int
	Duration int64
}

// NewGradeCommand creates the grade command.
func NewGradeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GradeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "grade <item-id> <again|hard|good|easy>",
		Short: "Record one graded review",
		Long: `Record a review outcome for an item. The event is appended to the
ledger durably and the item's scheduling state is re-derived immediately.

Example:
  kioku grade word-inu good --user u1 --band 3`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGrade(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().IntVar(&opts.Band, "band", 3, "item difficulty band (1-5)")
	cmd.Flags().Int64Var(&opts.Duration, "duration-ms", 0, "time spent on the review")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func parseGrade(s string) (srs.Grade, error) {
	switch strings.ToLower(s) {
	case "again":
		return srs.Again, nil
	case "hard":
		return srs.Hard, nil
	case "good":
		return srs.Good, nil
	case "easy":
		return srs.Easy, nil
	default:
		return 0, fmt.Errorf("unknown grade %q: must be again, hard, good, or easy", s)
	}
}

func runGrade(opts *GradeOptions, cmd *cobra.Command, itemID, gradeArg string) error {
	grade, err := parseGrade(gradeArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid grade", err)
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	state, err := a.engine.Grade(cmd.Context(), engine.GradeRequest{
		UserID:     opts.User,
		ItemID:     itemID,
		Grade:      grade,
		Band:       rank.Band(opts.Band),
		DurationMs: opts.Duration,
	})
	if err != nil {
		return WrapExitError(ExitFailure, "failed to record review", err)
	}

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Successf(state, "%s: %s, %d reviews, next due %s",
		state.ItemID, state.Status, state.ReviewCount, state.NextReviewAt.Format("2006-01-02"))
}
