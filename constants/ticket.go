package constants

// TicketType is the fiscal ticket type enumeration. A single type exists
// today; the column is an enum so new register summary formats stay additive.
type TicketType string

const (
	TicketTypeStatistics TicketType = "STATISTICS"
)

// PaymentMode is the settlement mode of one payment line on a ticket.
type PaymentMode string

const (
	PaymentCard     PaymentMode = "CARD"
	PaymentCash     PaymentMode = "CASH"
	PaymentCheque   PaymentMode = "CHEQUE"
	PaymentTransfer PaymentMode = "TRANSFER"
)

// PaymentModes lists every accepted mode, for input validation.
var PaymentModes = []PaymentMode{PaymentCard, PaymentCash, PaymentCheque, PaymentTransfer}
