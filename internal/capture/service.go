// Package capture turns a photographed Z-ticket into a draft ledger entry:
// draft ticket, photo blob and their queue items in one transaction, then a
// best-effort OCR pass to prefill the entry form.
package capture

import (
	"context"
	"log/slog"
	"strings"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
	"github.com/placette/zticket/internal/lifecycle"
	"github.com/placette/zticket/internal/ocr"
)

// Extractor is the OCR surface the service consumes. ocr.Client is the
// production implementation.
type Extractor interface {
	Extract(ctx context.Context, ticketID int64, image []byte) (*ocr.Result, error)
}

type Service struct {
	store     *ledger.Store
	tickets   ledger.TicketRepository
	photos    ledger.PhotoRepository
	queue     ledger.QueueRepository
	extractor Extractor
	logger    *slog.Logger
}

func NewService(store *ledger.Store, tickets ledger.TicketRepository, photos ledger.PhotoRepository, queue ledger.QueueRepository, extractor Extractor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		tickets:   tickets,
		photos:    photos,
		queue:     queue,
		extractor: extractor,
		logger:    logger,
	}
}

// Request is one photographed ticket.
type Request struct {
	UserID    string
	MarketID  *int64
	Image     []byte
	Thumbnail []byte
}

// Result reports the created draft plus, when OCR succeeded, the prefill for
// the entry form. ManualEntry means OCR was unavailable or rejected; the
// draft exists either way.
type Result struct {
	TicketID    int64
	PhotoID     int64
	Prefill     *lifecycle.DraftInput
	NeedsReview bool
	ManualEntry bool
}

// Capture creates the draft ticket, its photo and their queue items in one
// transaction, then tries OCR. OCR failure never rolls anything back.
func (s *Service) Capture(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, common.ValidationErrorf("user id is required")
	}
	if len(req.Image) == 0 {
		return nil, common.ValidationErrorf("image is required")
	}
	thumbnail := req.Thumbnail
	if len(thumbnail) == 0 {
		thumbnail = req.Image
	}

	ticket := &entity.Ticket{
		UserID:   req.UserID,
		MarketID: req.MarketID,
		Type:     constants.TicketTypeStatistics,
	}
	photo := &entity.Photo{Image: req.Image, Thumbnail: thumbnail}

	var ocrItem *entity.QueueItem
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if _, err := s.tickets.CreateDraft(ctx, tx, ticket); err != nil {
			return err
		}
		photo.TicketID = ticket.ID
		if _, err := s.photos.Create(ctx, tx, photo); err != nil {
			return err
		}
		ref := entity.PhotoRef{PhotoID: photo.ID, TicketID: ticket.ID, OwnerID: req.UserID}
		if _, err := s.queue.Enqueue(ctx, tx, constants.ActionCreate, constants.EntityPhoto, photo.ID, ref); err != nil {
			return err
		}
		var err error
		ocrItem, err = s.queue.Enqueue(ctx, tx, constants.ActionOCR, constants.EntityTicket, ticket.ID, ref)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("captured ticket", "ticket_id", ticket.ID, "photo_id", photo.ID, "user_id", req.UserID)

	res := &Result{TicketID: ticket.ID, PhotoID: photo.ID}
	if s.extractor == nil {
		res.ManualEntry = true
		return res, nil
	}

	extraction, err := s.extractor.Extract(ctx, ticket.ID, req.Image)
	if err != nil {
		// Degrade to manual entry; the draft and photo are already safe. The
		// OCR queue item stays pending so the backend can re-run extraction
		// once the photo is synced.
		s.logger.Warn("ocr unavailable, falling back to manual entry", "ticket_id", ticket.ID, "error", err)
		res.ManualEntry = true
		return res, nil
	}

	// The local extraction answered the request; the queued item is settled.
	if err := s.queue.MarkCompleted(ctx, ocrItem.ID, nil); err != nil {
		s.logger.Error("failed to settle ocr queue item", "queue_id", ocrItem.ID, "error", err)
	}

	prefill := extraction.Prefill(req.UserID)
	prefill.MarketID = req.MarketID
	res.Prefill = &prefill
	res.NeedsReview = extraction.NeedsReview()
	return res, nil
}
