package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewMarketCommand creates the market command group.
func NewMarketCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Manage the markets tickets are recorded against",
	}
	cmd.AddCommand(newMarketAddCommand(rootOpts))
	cmd.AddCommand(newMarketListCommand(rootOpts))
	cmd.AddCommand(newMarketDeleteCommand(rootOpts))
	return cmd
}

func newMarketAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <name>",
		Short: "Create a market and queue it for sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.MarketSvc.Create(cmd.Context(), rootOpts.UserID, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "market %d created\n", id)
			return nil
		},
	}
}

func newMarketListCommand(rootOpts *RootOptions) *cobra.Command {
	var includeDeleted bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List markets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			markets, err := app.Markets.List(cmd.Context(), rootOpts.UserID, includeDeleted)
			if err != nil {
				return err
			}
			for _, m := range markets {
				state := ""
				if m.DeletedAt != nil {
					state = "\t(deleted)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s%s\n", m.ID, m.Name, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&includeDeleted, "all", false, "include soft-deleted markets")
	return cmd
}

func newMarketDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <market-id>",
		Short: "Soft-delete a market",
		Long:  "Hide a market from new tickets. Historic tickets keep their reference.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid market id %q", args[0])
			}
			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.MarketSvc.Delete(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "market %d deleted\n", id)
			return nil
		},
	}
}
