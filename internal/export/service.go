package export

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
)

// Service produces the audit workbook: every finalized ticket with its
// integrity hash, one row per ticket, XLSX bytes out.
type Service struct {
	tickets ledger.TicketRepository
	markets ledger.MarketRepository
	logger  *slog.Logger
}

func NewService(tickets ledger.TicketRepository, markets ledger.MarketRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{tickets: tickets, markets: markets, logger: logger}
}

// ExportAuditXLSX returns an XLSX workbook of the user's non-draft tickets in
// the date window. Empty bounds mean unbounded. Drafts carry no hash and are
// not part of the audit trail.
func (s *Service) ExportAuditXLSX(ctx context.Context, userID, fromDate, toDate string) ([]byte, error) {
	start := time.Now()

	recs, err := s.tickets.List(ctx, userID, fromDate, toDate)
	if err != nil {
		return nil, fmt.Errorf("query tickets: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Tickets"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Impression Date",
		"Ticket #",
		"Reset #",
		"Market",
		"Status",
		"Total",
		"Payments",
		"Discount",
		"Cancel Value",
		"Cancel Count",
		"Validated At",
		"Cancelled At",
		"Cancellation Reason",
		"Integrity Hash",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	marketNames := make(map[int64]string)
	row := 2
	exported := 0
	for _, t := range recs {
		if t.Status == constants.TicketStatusDraft {
			continue
		}
		exported++

		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, t.ImpressionDate)
		write(2, t.TicketNumber)
		write(3, t.ResetNumber)
		write(4, s.marketName(ctx, marketNames, t.MarketID))
		write(5, string(t.Status))
		write(6, formatMinorUnits(t.Total))
		write(7, formatPayments(t.Payments))
		write(8, formatMinorUnits(t.DiscountValue))
		write(9, formatMinorUnits(t.CancelValue))
		write(10, t.CancelCount)
		write(11, formatTimePtr(t.ValidatedAt))
		write(12, formatTimePtr(t.CancelledAt))
		if t.CancellationReason != nil {
			write(13, *t.CancellationReason)
		}
		write(14, t.DataHash)
		row++
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}

	s.logger.Info("export complete", "user_id", userID, "tickets", exported, "elapsed_ms", time.Since(start).Milliseconds())
	return buf.Bytes(), nil
}

// marketName resolves a market label, caching lookups for the workbook pass.
// Soft-deleted markets still resolve; the audit trail keeps its references.
func (s *Service) marketName(ctx context.Context, cache map[int64]string, id *int64) string {
	if id == nil {
		return ""
	}
	if name, ok := cache[*id]; ok {
		return name
	}
	m, err := s.markets.GetByID(ctx, *id)
	if err != nil {
		s.logger.Warn("failed to resolve market for export", "market_id", *id, "error", err)
		cache[*id] = ""
		return ""
	}
	cache[*id] = m.Name
	return m.Name
}

func formatMinorUnits(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func formatPayments(payments []entity.Payment) string {
	parts := make([]string, 0, len(payments))
	for _, p := range payments {
		parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(string(p.Mode)), formatMinorUnits(p.Value)))
	}
	return strings.Join(parts, ", ")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
