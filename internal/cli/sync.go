package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/syncengine"
)

// NewSyncCommand creates the sync command: run one sync cycle now.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the fiscal backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Cfg.Validate(); err != nil {
				return err
			}

			authRequired := false
			off := app.State.Listen(syncengine.Callbacks{
				AuthRequired: func() { authRequired = true },
			})
			defer off()

			ran := app.Engine.RunCycle(cmd.Context())
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "skipped: offline or not authenticated")
				return nil
			}
			if authRequired {
				return fmt.Errorf("session rejected by the backend: sign in again")
			}
			if sum, ok := app.State.LastSummary(); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "completed %d, failed %d, remaining %d\n",
					sum.Completed, sum.Failed, sum.Remaining)
			}
			return nil
		},
	}
}

// NewRetryCommand creates the retry command, re-queuing failed items.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Re-queue failed sync items",
		Long:  "Move every FAILED queue item back to PENDING so the next cycle retries it.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			n, err := app.Queue.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-queued %d failed item(s)\n", n)
			return nil
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger and sync queue state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			counts := app.Views.TicketCounts()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tickets: %d draft, %d validated, %d cancelled\n",
				counts[constants.TicketStatusDraft],
				counts[constants.TicketStatusValidated],
				counts[constants.TicketStatusCancelled])
			fmt.Fprintf(w, "sync queue: %d pending\n", app.Views.PendingSyncCount())
			if sum, ok := app.State.LastSummary(); ok {
				fmt.Fprintf(w, "last cycle: completed %d, failed %d at %s\n",
					sum.Completed, sum.Failed, sum.FinishedAt.Format("15:04:05"))
			}
			return nil
		},
	}
}
