package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// PushOptions holds flags for the push command.
type PushOptions struct {
	*RootOptions
	User   string
	Since  string
	Output string
}

// NewPushCommand creates the push command: emit this device's delta as a
// JSON file another device can sync.
func NewPushCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PushOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Emit a delta file for other devices",
		Long: `Assemble the outgoing delta: events after the --since watermark plus
current intent state, written as JSON to --output or stdout.

Example:
  kioku push --user u1 --since 2025-06-01T00:00:00Z -o ./outgoing/delta.json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPush(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "user ID (required)")
	cmd.Flags().StringVar(&opts.Since, "since", "", "only include events after this RFC 3339 time")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runPush(opts *PushOptions, cmd *cobra.Command) error {
	var sinceMillis int64
	if opts.Since != "" {
		t, err := time.Parse(time.RFC3339, opts.Since)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since time", err)
		}
		sinceMillis = t.UnixMilli()
	}

	a, err := newApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	delta, err := a.engine.BuildDelta(cmd.Context(), opts.User, sinceMillis)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to build delta", err)
	}

	data, err := json.MarshalIndent(delta, "", "  ")
	if err != nil {
		return WrapExitError(ExitFailure, "failed to encode delta", err)
	}

	if opts.Output == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	if err := os.WriteFile(opts.Output, append(data, '\n'), 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write delta file", err)
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return out.Successf(map[string]any{"events": len(delta.Events), "output": opts.Output},
		"wrote %d events to %s", len(delta.Events), opts.Output)
}
