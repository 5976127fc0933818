package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewExportCommand creates the export command: the audit workbook handed to
// the fiscal inspector.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		fromDate string
		toDate   string
		output   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export validated and cancelled tickets to an XLSX workbook",
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

			data, err := app.Export.ExportAuditXLSX(cmd.Context(), rootOpts.UserID, fromDate, toDate)
			if err != nil {
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write workbook: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", output, len(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDate, "from", "", "earliest impression date (inclusive)")
	cmd.Flags().StringVar(&toDate, "to", "", "latest impression date (inclusive)")
	cmd.Flags().StringVarP(&output, "output", "o", "tickets.xlsx", "output file")
	return cmd
}
