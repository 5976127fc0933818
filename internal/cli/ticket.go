package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/capture"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/lifecycle"
)

// NewCaptureCommand creates the capture command: photograph a paper ticket
// and open a draft from it.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	var marketID int64

	cmd := &cobra.Command{
		Use:   "capture <image-file>",
		Short: "Create a draft ticket from a photo",
		Long: `Store the photo, create a draft and queue both for sync. When an OCR
service is configured the draft fields are prefilled from the image.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.UserID == "" {
				return fmt.Errorf("--user is required")
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read image: %w", err)
			}

			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			req := capture.Request{UserID: rootOpts.UserID, Image: image}
			if marketID > 0 {
				req.MarketID = &marketID
			}
			res, err := app.Capture.Capture(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "draft ticket %d created (photo %d)\n", res.TicketID, res.PhotoID)
			switch {
			case res.ManualEntry:
				fmt.Fprintln(cmd.OutOrStdout(), "OCR unavailable: fill the draft manually, then run validate")
			case res.NeedsReview:
				fmt.Fprintln(cmd.OutOrStdout(), "OCR confidence low: review the prefilled fields before validate")
			default:
				fmt.Fprintln(cmd.OutOrStdout(), "fields prefilled from OCR; run validate to finalize")
			}
			if res.Prefill != nil {
				printPrefill(cmd, res.Prefill)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&marketID, "market", 0, "market id the ticket belongs to")
	return cmd
}

// NewValidateCommand creates the validate command, finalizing a draft into
// the append-only record.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		impressionDate string
		lastResetDate  string
		resetNumber    int
		ticketNumber   int
		discountValue  int64
		cancelValue    int64
		cancelCount    int
		total          int64
		payments       []string
		marketID       int64
	)

	cmd := &cobra.Command{
		Use:   "validate <ticket-id>",
		Short: "Finalize a draft ticket",
		Long: `Apply the final field values, compute the integrity hash and move the
ticket to VALIDATED. The validated record is queued for sync and can no
longer be edited, only cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}

			var data *lifecycle.DraftInput
			if cmd.Flags().NFlag() > 0 {
				in := lifecycle.DraftInput{
					UserID:         rootOpts.UserID,
					ImpressionDate: impressionDate,
					LastResetDate:  lastResetDate,
					ResetNumber:    resetNumber,
					TicketNumber:   ticketNumber,
					DiscountValue:  discountValue,
					CancelValue:    cancelValue,
					CancelCount:    cancelCount,
					Total:          total,
				}
				if marketID > 0 {
					in.MarketID = &marketID
				}
				if in.Payments, err = parsePayments(payments); err != nil {
					return err
				}
				data = &in
			}

			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			if _, err := app.Lifecycle.Validate(cmd.Context(), id, data); err != nil {
				return err
			}
			t, err := app.Tickets.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ticket %d validated, hash %s\n", id, t.DataHash)
			return nil
		},
	}

	cmd.Flags().StringVar(&impressionDate, "date", "", "impression date printed on the ticket")
	cmd.Flags().StringVar(&lastResetDate, "last-reset", "", "previous Z reset date")
	cmd.Flags().IntVar(&resetNumber, "reset-number", 0, "Z reset counter")
	cmd.Flags().IntVar(&ticketNumber, "number", 0, "ticket number")
	cmd.Flags().Int64Var(&discountValue, "discount", 0, "discount total in cents")
	cmd.Flags().Int64Var(&cancelValue, "cancel-value", 0, "cancelled lines total in cents")
	cmd.Flags().IntVar(&cancelCount, "cancel-count", 0, "cancelled lines count")
	cmd.Flags().Int64Var(&total, "total", 0, "ticket total in cents")
	cmd.Flags().StringSliceVar(&payments, "payment", nil, "payment line as mode:cents (repeatable), e.g. CARD:5000")
	cmd.Flags().Int64Var(&marketID, "market", 0, "market id the ticket belongs to")
	return cmd
}

// NewCancelCommand creates the cancel command. Cancellation appends; the
// validated record itself is never rewritten.
func NewCancelCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <ticket-id>",
		Short: "Cancel a ticket with a mandatory reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}

			app, err := OpenApp(rootOpts.Verbose)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Lifecycle.Cancel(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ticket %d cancelled\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason (required)")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var fromDate, toDate string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets in impression-date order",
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

			tickets, err := app.Tickets.List(cmd.Context(), rootOpts.UserID, fromDate, toDate)
			if err != nil {
				return err
			}
			for _, t := range tickets {
				synced := "local"
				if t.ServerTimestamp != nil {
					synced = "synced"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t#%d\t%s\t%s\t%s\n",
					t.ID, t.ImpressionDate, t.TicketNumber, formatCents(t.Total), t.Status, synced)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fromDate, "from", "", "earliest impression date (inclusive)")
	cmd.Flags().StringVar(&toDate, "to", "", "latest impression date (inclusive)")
	return cmd
}

func parsePayments(specs []string) ([]entity.Payment, error) {
	var out []entity.Payment
	for _, spec := range specs {
		mode, value, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("invalid payment %q: want mode:cents", spec)
		}
		cents, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid payment amount %q", value)
		}
		out = append(out, entity.Payment{
			Mode:  constants.PaymentMode(strings.ToUpper(mode)),
			Value: cents,
		})
	}
	return out, nil
}

func printPrefill(cmd *cobra.Command, in *lifecycle.DraftInput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "  date: %s  number: %d  total: %s\n", in.ImpressionDate, in.TicketNumber, formatCents(in.Total))
	for _, p := range in.Payments {
		fmt.Fprintf(w, "  payment: %s %s\n", p.Mode, formatCents(p.Value))
	}
}

func formatCents(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
