package export

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
)

func TestExportAuditXLSXSkipsDrafts(t *testing.T) {
	store, err := ledger.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tickets := ledger.NewTicketRepository(store, nil)
	markets := ledger.NewMarketRepository(store, nil)
	ctx := context.Background()

	market := &entity.Market{Name: "Marché Bastille", UserID: "u1"}
	err = store.WithTx(ctx, func(tx *ledger.Tx) error {
		_, err := markets.Create(ctx, tx, market)
		return err
	})
	require.NoError(t, err)

	newTicket := func(date string) int64 {
		var id int64
		err := store.WithTx(ctx, func(tx *ledger.Tx) error {
			var err error
			id, err = tickets.CreateDraft(ctx, tx, &entity.Ticket{
				UserID:         "u1",
				MarketID:       &market.ID,
				Type:           constants.TicketTypeStatistics,
				ImpressionDate: date,
				TicketNumber:   42,
				Payments:       []entity.Payment{{Mode: constants.PaymentCard, Value: 7500}},
				Total:          7500,
			})
			return err
		})
		require.NoError(t, err)
		return id
	}

	validated := newTicket("2026-03-14")
	cancelled := newTicket("2026-03-15")
	newTicket("2026-03-16") // stays a draft

	now := time.Now().UTC()
	err = store.WithTx(ctx, func(tx *ledger.Tx) error {
		if err := tickets.MarkValidated(ctx, tx, validated, "deadbeef", now); err != nil {
			return err
		}
		if err := tickets.MarkValidated(ctx, tx, cancelled, "cafebabe", now); err != nil {
			return err
		}
		return tickets.MarkCancelled(ctx, tx, cancelled, "misprint", now)
	})
	require.NoError(t, err)

	svc := NewService(tickets, markets, nil)
	data, err := svc.ExportAuditXLSX(ctx, "u1", "", "")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()

	rows, err := wb.GetRows("Tickets")
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + validated + cancelled, draft skipped

	assert.Equal(t, "Impression Date", rows[0][0])
	assert.Equal(t, "Integrity Hash", rows[0][13])

	assert.Equal(t, "2026-03-14", rows[1][0])
	assert.Equal(t, "Marché Bastille", rows[1][3])
	assert.Equal(t, "VALIDATED", rows[1][4])
	assert.Equal(t, "75.00", rows[1][5])
	assert.Equal(t, "card 75.00", rows[1][6])
	assert.Equal(t, "deadbeef", rows[1][13])

	assert.Equal(t, "CANCELLED", rows[2][4])
	assert.Equal(t, "misprint", rows[2][12])
	assert.Equal(t, "cafebabe", rows[2][13])
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "0.00", formatMinorUnits(0))
	assert.Equal(t, "0.05", formatMinorUnits(5))
	assert.Equal(t, "75.00", formatMinorUnits(7500))
	assert.Equal(t, "-3.21", formatMinorUnits(-321))
}
