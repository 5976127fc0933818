// Package lifecycle enforces the draft → validated / cancelled ticket state
// machine. Every transition writes the ledger mutation and its sync-queue
// entry in one local transaction.
package lifecycle

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/hash"
	"github.com/placette/zticket/internal/ledger"
)

type Service struct {
	store   *ledger.Store
	tickets ledger.TicketRepository
	queue   ledger.QueueRepository
	logger  *slog.Logger
}

func NewService(store *ledger.Store, tickets ledger.TicketRepository, queue ledger.QueueRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tickets: tickets, queue: queue, logger: logger}
}

// DraftInput carries the fiscal fields of a ticket as entered by capture or
// the manual form.
type DraftInput struct {
	UserID         string
	MarketID       *int64
	ImpressionDate string
	LastResetDate  string
	ResetNumber    int
	TicketNumber   int
	DiscountValue  int64
	CancelValue    int64
	CancelCount    int
	Payments       []entity.Payment
	Total          int64
}

// CreateDraft inserts a new draft ticket. Drafts carry no hash and are never
// synced; only validation or cancellation produces queue entries.
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (int64, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return 0, common.ValidationErrorf("user id is required")
	}
	t := &entity.Ticket{
		UserID: in.UserID,
		Type:   constants.TicketTypeStatistics,
	}
	applyDraftInput(t, in)

	var id int64
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		var err error
		id, err = s.tickets.CreateDraft(ctx, tx, t)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("created draft ticket", "ticket_id", id, "user_id", in.UserID)
	return id, nil
}

// UpdateDraft rewrites the fiscal fields of a draft ticket. Rejected once the
// ticket has left DRAFT.
func (s *Service) UpdateDraft(ctx context.Context, ticketID int64, in DraftInput) error {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status != constants.TicketStatusDraft {
		return common.NewAppError("TICKET_STATE", "only draft tickets can be edited", common.ErrInvalidState)
	}
	applyDraftInput(t, in)
	return s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		return s.tickets.UpdateDraft(ctx, tx, t)
	})
}

// Validate finalizes a draft: the payment set must sum exactly to the total,
// the integrity hash is computed over the canonical fiscal fields, and the
// VALIDATED transition plus its CREATE queue item commit together. If data is
// non-nil the final form values are applied in the same transaction first.
// Returns the ticket id.
func (s *Service) Validate(ctx context.Context, ticketID int64, data *DraftInput) (int64, error) {
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if t.Status != constants.TicketStatusDraft {
		return 0, common.NewAppError("TICKET_STATE", "ticket is not a draft", common.ErrInvalidState)
	}
	if data != nil {
		applyDraftInput(t, *data)
	}
	if strings.TrimSpace(t.ImpressionDate) == "" {
		return 0, common.ValidationErrorf("impression date is required")
	}
	if err := validatePayments(t); err != nil {
		return 0, err
	}

	dataHash := hash.ComputeTicketHash(hash.TicketFields{
		ImpressionDate: t.ImpressionDate,
		Total:          t.Total,
		Payments:       t.Payments,
		TicketNumber:   t.TicketNumber,
		UserID:         t.UserID,
	})
	now := time.Now().UTC()

	// The snapshot is fixed before the queue item is written so the remote
	// payload and the local record can never disagree.
	snapshot := *t
	snapshot.Status = constants.TicketStatusValidated
	snapshot.DataHash = dataHash
	snapshot.ValidatedAt = &now

	err = s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if data != nil {
			if err := s.tickets.UpdateDraft(ctx, tx, t); err != nil {
				return err
			}
		}
		if err := s.tickets.MarkValidated(ctx, tx, ticketID, dataHash, now); err != nil {
			return err
		}
		_, err := s.queue.Enqueue(ctx, tx, constants.ActionCreate, constants.EntityTicket, ticketID, snapshot)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("validated ticket", "ticket_id", ticketID, "data_hash", dataHash)
	return ticketID, nil
}

// Cancel moves a draft or validated ticket to CANCELLED. The reason is
// mandatory; a blank reason fails before any ledger write. The cancelled_at
// timestamp stored locally is the same value embedded in the queue payload.
func (s *Service) Cancel(ctx context.Context, ticketID int64, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return common.NewAppError("CANCELLATION_REASON", "Cancellation reason is required", common.ErrValidation)
	}
	t, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if t.Status == constants.TicketStatusCancelled {
		return common.NewAppError("TICKET_STATE", "ticket is already cancelled", common.ErrInvalidState)
	}

	now := time.Now().UTC()
	snapshot := *t
	snapshot.Status = constants.TicketStatusCancelled
	snapshot.CancelledAt = &now
	snapshot.CancellationReason = &reason

	err = s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if err := s.tickets.MarkCancelled(ctx, tx, ticketID, reason, now); err != nil {
			return err
		}
		_, err := s.queue.Enqueue(ctx, tx, constants.ActionCancel, constants.EntityTicket, ticketID, snapshot)
		return err
	})
	if err != nil {
		return err
	}
	s.logger.Info("cancelled ticket", "ticket_id", ticketID, "reason", reason)
	return nil
}

func applyDraftInput(t *entity.Ticket, in DraftInput) {
	t.MarketID = in.MarketID
	t.ImpressionDate = in.ImpressionDate
	t.LastResetDate = in.LastResetDate
	t.ResetNumber = in.ResetNumber
	t.TicketNumber = in.TicketNumber
	t.DiscountValue = in.DiscountValue
	t.CancelValue = in.CancelValue
	t.CancelCount = in.CancelCount
	t.Payments = in.Payments
	t.Total = in.Total
}

func validatePayments(t *entity.Ticket) error {
	if len(t.Payments) == 0 {
		return common.ValidationErrorf("at least one payment is required")
	}
	for _, p := range t.Payments {
		if !validMode(p.Mode) {
			return common.ValidationErrorf("unknown payment mode %q", p.Mode)
		}
		if p.Value < 0 {
			return common.ValidationErrorf("payment value must not be negative")
		}
	}
	if sum := t.PaymentsTotal(); sum != t.Total {
		return common.ValidationErrorf("payments sum to %d, total is %d", sum, t.Total)
	}
	return nil
}

func validMode(mode constants.PaymentMode) bool {
	for _, m := range constants.PaymentModes {
		if m == mode {
			return true
		}
	}
	return false
}
