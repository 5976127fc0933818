package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/hash"
	"github.com/placette/zticket/internal/ledger"
)

type fixture struct {
	store   *ledger.Store
	tickets ledger.TicketRepository
	queue   ledger.QueueRepository
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := ledger.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tickets := ledger.NewTicketRepository(store, nil)
	queue := ledger.NewQueueRepository(store, nil)
	return &fixture{
		store:   store,
		tickets: tickets,
		queue:   queue,
		svc:     NewService(store, tickets, queue, nil),
	}
}

func draftInput() DraftInput {
	return DraftInput{
		UserID:         "u1",
		ImpressionDate: "2026-03-14",
		TicketNumber:   42,
		Payments: []entity.Payment{
			{Mode: constants.PaymentCard, Value: 5000},
			{Mode: constants.PaymentCash, Value: 2500},
		},
		Total: 7500,
	}
}

func TestCreateDraftProducesNoQueueItem(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), DraftInput{UserID: "u1"})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusDraft, got.Status)
	assert.Empty(t, got.DataHash)

	n, err := f.queue.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateDraftRequiresUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateDraft(context.Background(), DraftInput{})
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestValidateComputesHashAndEnqueues(t *testing.T) {
	f := newFixture(t)
	in := draftInput()

	id, err := f.svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.NoError(t, err)

	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusValidated, got.Status)
	require.NotNil(t, got.ValidatedAt)

	want := hash.ComputeTicketHash(hash.TicketFields{
		ImpressionDate: in.ImpressionDate,
		Total:          in.Total,
		Payments:       in.Payments,
		TicketNumber:   in.TicketNumber,
		UserID:         in.UserID,
	})
	assert.Equal(t, want, got.DataHash)

	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	item := pending[0]
	assert.Equal(t, constants.ActionCreate, item.Action)
	assert.Equal(t, constants.EntityTicket, item.EntityType)
	assert.Equal(t, id, item.EntityID)
	assert.NotEmpty(t, item.Key)

	// The queued snapshot carries the validated record, hash included.
	var snap entity.Ticket
	require.NoError(t, json.Unmarshal(item.Payload, &snap))
	assert.Equal(t, constants.TicketStatusValidated, snap.Status)
	assert.Equal(t, want, snap.DataHash)
	assert.Equal(t, int64(7500), snap.Total)
}

func TestValidateAppliesFinalFormValues(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), DraftInput{UserID: "u1"})
	require.NoError(t, err)

	in := draftInput()
	_, err = f.svc.Validate(context.Background(), id, &in)
	require.NoError(t, err)

	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 42, got.TicketNumber)
	assert.Equal(t, int64(7500), got.Total)
	assert.Equal(t, constants.TicketStatusValidated, got.Status)
}

func TestValidateRejectsPaymentMismatch(t *testing.T) {
	f := newFixture(t)
	in := draftInput()
	in.Total = 9999 // payments sum to 7500

	id, err := f.svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.ErrorIs(t, err, common.ErrValidation)

	// Rejected validation leaves the draft editable and the queue empty.
	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusDraft, got.Status)
	n, err := f.queue.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateRejectsEmptyPaymentsAndBadModes(t *testing.T) {
	f := newFixture(t)

	in := draftInput()
	in.Payments = nil
	in.Total = 0
	id, err := f.svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.ErrorIs(t, err, common.ErrValidation)

	in = draftInput()
	in.Payments = []entity.Payment{{Mode: "BITCOIN", Value: 7500}}
	id, err = f.svc.CreateDraft(context.Background(), in)
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestValidateRejectsNonDraft(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), draftInput())
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.NoError(t, err)

	_, err = f.svc.Validate(context.Background(), id, nil)
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestUpdateDraftRejectedAfterValidation(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), draftInput())
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.NoError(t, err)

	err = f.svc.UpdateDraft(context.Background(), id, draftInput())
	require.ErrorIs(t, err, common.ErrInvalidState)
}

func TestCancelRequiresReason(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), draftInput())
	require.NoError(t, err)

	err = f.svc.Cancel(context.Background(), id, "   ")
	require.Error(t, err)

	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CANCELLATION_REASON", appErr.Code)
	assert.Equal(t, "Cancellation reason is required", appErr.Message)
	require.ErrorIs(t, err, common.ErrValidation)

	// Nothing was written.
	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusDraft, got.Status)
	n, err := f.queue.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelTimestampMatchesQueuePayload(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), draftInput())
	require.NoError(t, err)
	_, err = f.svc.Validate(context.Background(), id, nil)
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(context.Background(), id, "duplicate entry"))

	got, err := f.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)

	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 2) // CREATE from validate, CANCEL from cancel

	var cancelItem *entity.QueueItem
	for _, it := range pending {
		if it.Action == constants.ActionCancel {
			cancelItem = it
		}
	}
	require.NotNil(t, cancelItem)
	var snap entity.Ticket
	require.NoError(t, json.Unmarshal(cancelItem.Payload, &snap))
	require.NotNil(t, snap.CancelledAt)
	assert.True(t, snap.CancelledAt.Equal(*got.CancelledAt))
	require.NotNil(t, snap.CancellationReason)
	assert.Equal(t, "duplicate entry", *snap.CancellationReason)
}

func TestCancelAlreadyCancelled(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.CreateDraft(context.Background(), draftInput())
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(context.Background(), id, "misprint"))

	err = f.svc.Cancel(context.Background(), id, "again")
	require.ErrorIs(t, err, common.ErrInvalidState)
}
