package entity

import (
	"time"

	"github.com/placette/zticket/constants"
)

// Payment is one settlement line on a ticket. Values are integer minor
// currency units (cents); floats never enter the fiscal record.
type Payment struct {
	Mode  constants.PaymentMode `json:"mode"`
	Value int64                 `json:"value"`
}

// Ticket represents a Z-ticket for data transfer between layers.
//
// Fiscal fields (everything between Type and Total) are frozen the moment
// Status leaves DRAFT; only the lifecycle columns below them may still be
// written, and each exactly once.
type Ticket struct {
	ID       int64  `json:"id"`
	UserID   string `json:"user_id"`
	MarketID *int64 `json:"market_id,omitempty"`

	Type           constants.TicketType `json:"type"`
	ImpressionDate string               `json:"impression_date"`
	LastResetDate  string               `json:"last_reset_date,omitempty"`
	ResetNumber    int                  `json:"reset_number"`
	TicketNumber   int                  `json:"ticket_number"`
	DiscountValue  int64                `json:"discount_value"`
	CancelValue    int64                `json:"cancel_value"`
	CancelCount    int                  `json:"cancel_count"`
	Payments       []Payment            `json:"payments"`
	Total          int64                `json:"total"`

	Status             constants.TicketStatus `json:"status"`
	DataHash           string                 `json:"data_hash,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
	ClientTimestamp    time.Time              `json:"client_timestamp"`
	ValidatedAt        *time.Time             `json:"validated_at,omitempty"`
	CancelledAt        *time.Time             `json:"cancelled_at,omitempty"`
	CancellationReason *string                `json:"cancellation_reason,omitempty"`
	ServerTimestamp    *time.Time             `json:"server_timestamp,omitempty"`
}

// PaymentsTotal sums the payment lines.
func (t *Ticket) PaymentsTotal() int64 {
	var sum int64
	for _, p := range t.Payments {
		sum += p.Value
	}
	return sum
}
