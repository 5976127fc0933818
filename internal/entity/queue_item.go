package entity

import (
	"encoding/json"
	"time"

	"github.com/placette/zticket/constants"
)

// QueueItem is one pending or attempted remote operation. Created in the same
// local transaction as the ledger mutation it mirrors.
type QueueItem struct {
	ID int64 `json:"id"`

	// Key is a client-generated idempotency token (UUID) sent with every
	// submission so the backend can de-duplicate retried inserts.
	Key string `json:"key"`

	Action     constants.SyncAction `json:"action"`
	EntityType constants.EntityType `json:"entity_type"`
	EntityID   int64                `json:"entity_id"`

	// Payload is a serialized snapshot sufficient for the reconciler to
	// reconstruct the record without re-reading the ledger.
	Payload json.RawMessage `json:"payload"`

	Status        constants.QueueStatus `json:"status"`
	Retries       int                   `json:"retries"`
	CreatedAt     time.Time             `json:"created_at"`
	LastAttemptAt *time.Time            `json:"last_attempt_at,omitempty"`
	ErrorMessage  *string               `json:"error_message,omitempty"`
	ServerID      *string               `json:"server_id,omitempty"`
}
