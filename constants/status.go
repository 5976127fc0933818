package constants

// TicketStatus is the canonical lifecycle status for rows in tickets.
type TicketStatus string

// Stable values (store these exact strings in DB).
const (
	TicketStatusDraft     TicketStatus = "DRAFT"     // editable, not yet fiscal
	TicketStatusValidated TicketStatus = "VALIDATED" // fiscal fields frozen, may still be cancelled
	TicketStatusCancelled TicketStatus = "CANCELLED" // terminal, requires a reason
)

// QueueStatus is the canonical status for rows in sync_queue.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "PENDING"     // awaiting transmission
	QueueStatusInProgress QueueStatus = "IN_PROGRESS" // claimed by a sync cycle
	QueueStatusCompleted  QueueStatus = "COMPLETED"   // acknowledged by the backend, kept for audit
	QueueStatusFailed     QueueStatus = "FAILED"      // retry budget exhausted, manual retry only
)

// SyncAction identifies the remote operation a queue item represents.
type SyncAction string

const (
	ActionCreate SyncAction = "CREATE"
	ActionUpdate SyncAction = "UPDATE"
	ActionCancel SyncAction = "CANCEL"
	ActionOCR    SyncAction = "OCR"
)

// EntityType identifies which ledger table a queue item refers to.
type EntityType string

const (
	EntityTicket EntityType = "TICKET"
	EntityPhoto  EntityType = "PHOTO"
	EntityMarket EntityType = "MARKET"
)

// MaxRetries is the automatic retry budget for a queue item. Once retries
// reach this cap the item is demoted to FAILED and only a manual "retry
// failed" trigger re-queues it.
const MaxRetries = 5
