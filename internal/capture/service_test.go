package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/ledger"
	"github.com/placette/zticket/internal/ocr"
)

type extractorStub struct {
	result *ocr.Result
	err    error
	calls  int
}

func (s *extractorStub) Extract(context.Context, int64, []byte) (*ocr.Result, error) {
	s.calls++
	return s.result, s.err
}

type captureFixture struct {
	store   *ledger.Store
	tickets ledger.TicketRepository
	photos  ledger.PhotoRepository
	queue   ledger.QueueRepository
}

func newCaptureFixture(t *testing.T) *captureFixture {
	t.Helper()
	store, err := ledger.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return &captureFixture{
		store:   store,
		tickets: ledger.NewTicketRepository(store, nil),
		photos:  ledger.NewPhotoRepository(store, nil),
		queue:   ledger.NewQueueRepository(store, nil),
	}
}

func (f *captureFixture) service(extractor Extractor) *Service {
	return NewService(f.store, f.tickets, f.photos, f.queue, extractor, nil)
}

func TestCaptureStoresDraftPhotoAndQueueItems(t *testing.T) {
	f := newCaptureFixture(t)
	stub := &extractorStub{result: &ocr.Result{
		Confidence: 0.9,
		Fields: map[string]ocr.Field{
			"total":         {Value: "7500", Confidence: 0.95},
			"ticket_number": {Value: "42", Confidence: 0.9},
		},
	}}
	svc := f.service(stub)

	res, err := svc.Capture(context.Background(), Request{UserID: "u1", Image: []byte{0xFF, 0xD8}})
	require.NoError(t, err)
	require.NotZero(t, res.TicketID)
	require.NotZero(t, res.PhotoID)
	assert.Equal(t, 1, stub.calls)

	ticket, err := f.tickets.GetByID(context.Background(), res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, constants.TicketStatusDraft, ticket.Status)

	photo, err := f.photos.GetByTicketID(context.Background(), res.TicketID)
	require.NoError(t, err)
	assert.Equal(t, res.PhotoID, photo.ID)
	assert.Equal(t, []byte{0xFF, 0xD8}, photo.Image)

	// The photo upload item is pending; the OCR item was settled by the
	// successful local extraction.
	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, constants.EntityPhoto, pending[0].EntityType)

	require.NotNil(t, res.Prefill)
	assert.Equal(t, int64(7500), res.Prefill.Total)
	assert.Equal(t, 42, res.Prefill.TicketNumber)
	assert.False(t, res.NeedsReview)
	assert.False(t, res.ManualEntry)
}

func TestCaptureLowConfidenceFlagsReview(t *testing.T) {
	f := newCaptureFixture(t)
	stub := &extractorStub{result: &ocr.Result{Confidence: 0.2, Fields: map[string]ocr.Field{}}}
	svc := f.service(stub)

	res, err := svc.Capture(context.Background(), Request{UserID: "u1", Image: []byte{1}})
	require.NoError(t, err)
	assert.True(t, res.NeedsReview)
	assert.False(t, res.ManualEntry)
}

func TestCaptureOCRFailureFallsBackToManualEntry(t *testing.T) {
	f := newCaptureFixture(t)
	stub := &extractorStub{err: common.NewAppError("OCR_FALLBACK", "service down", common.ErrOCRFallback)}
	svc := f.service(stub)

	res, err := svc.Capture(context.Background(), Request{UserID: "u1", Image: []byte{1}})
	require.NoError(t, err)
	assert.True(t, res.ManualEntry)
	assert.Nil(t, res.Prefill)

	// Draft and photo survive; photo upload and OCR items both stay pending.
	_, err = f.tickets.GetByID(context.Background(), res.TicketID)
	require.NoError(t, err)
	pending, err := f.queue.Pending(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestCaptureWithoutExtractor(t *testing.T) {
	f := newCaptureFixture(t)
	svc := f.service(nil)

	res, err := svc.Capture(context.Background(), Request{UserID: "u1", Image: []byte{1}})
	require.NoError(t, err)
	assert.True(t, res.ManualEntry)
}

func TestCaptureRejectsMissingInput(t *testing.T) {
	f := newCaptureFixture(t)
	svc := f.service(nil)

	_, err := svc.Capture(context.Background(), Request{Image: []byte{1}})
	require.ErrorIs(t, err, common.ErrValidation)

	_, err = svc.Capture(context.Background(), Request{UserID: "u1"})
	require.ErrorIs(t, err, common.ErrValidation)

	n, err := f.queue.CountPending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
