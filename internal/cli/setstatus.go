package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/ride-notifier/internal/models"
	"github.com/example/ride-notifier/internal/status"
)

func NewSetStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <ride-id> <status>",
		Short: "Write a ride status to the configured store",
		Long: `Write Requested, Accepted or Rejected to one ride and exit.

Example:
  ridenotify set-status 8c1d0f5e-3b9a-4c8e-9d2f-51a7e6b0c4aa accepted`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := rootOpts
			st, err := models.ParseStatus(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid status", err)
			}

			ctx := cmd.Context()
			b, err := openBackend(ctx, opts.Config, opts.Logger)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open backend", err)
			}
			defer b.Close()

			if !status.New(b.feed, opts.Logger).UpdateStatus(ctx, args[0], st) {
				return NewExitError(ExitFailure, fmt.Sprintf("status update failed for ride %s", args[0]))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ride %s is now %s\n", args[0], st)
			return nil
		},
	}
}
