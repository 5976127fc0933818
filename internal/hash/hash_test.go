package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/entity"
)

func ticket42() TicketFields {
	return TicketFields{
		ImpressionDate: "2026-03-14",
		Total:          7500,
		Payments: []entity.Payment{
			{Mode: constants.PaymentCard, Value: 5000},
			{Mode: constants.PaymentCash, Value: 2500},
		},
		TicketNumber: 42,
		UserID:       "user-1",
	}
}

func TestComputeTicketHashShape(t *testing.T) {
	h := ComputeTicketHash(ticket42())
	require.Len(t, h, 64)
	for _, c := range h {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}

func TestComputeTicketHashDeterministic(t *testing.T) {
	assert.Equal(t, ComputeTicketHash(ticket42()), ComputeTicketHash(ticket42()))
}

func TestComputeTicketHashPaymentOrderIrrelevant(t *testing.T) {
	reordered := ticket42()
	reordered.Payments = []entity.Payment{
		{Mode: constants.PaymentCash, Value: 2500},
		{Mode: constants.PaymentCard, Value: 5000},
	}
	assert.Equal(t, ComputeTicketHash(ticket42()), ComputeTicketHash(reordered))
}

func TestComputeTicketHashFieldSensitivity(t *testing.T) {
	base := ComputeTicketHash(ticket42())

	changed := ticket42()
	changed.Total = 7501
	assert.NotEqual(t, base, ComputeTicketHash(changed))

	changed = ticket42()
	changed.TicketNumber = 43
	assert.NotEqual(t, base, ComputeTicketHash(changed))

	changed = ticket42()
	changed.ImpressionDate = "2026-03-15"
	assert.NotEqual(t, base, ComputeTicketHash(changed))

	changed = ticket42()
	changed.UserID = "user-2"
	assert.NotEqual(t, base, ComputeTicketHash(changed))

	changed = ticket42()
	changed.Payments[1].Value = 2501
	assert.NotEqual(t, base, ComputeTicketHash(changed))
}

func TestComputeTicketHashDoesNotMutateInput(t *testing.T) {
	fields := ticket42()
	_ = ComputeTicketHash(fields)
	assert.Equal(t, constants.PaymentCard, fields.Payments[0].Mode)
}
