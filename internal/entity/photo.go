package entity

import "time"

// Photo is the binary capture backing a ticket. Immutable once written;
// uploads are non-overwriting on the remote side.
type Photo struct {
	ID        int64     `json:"id"`
	TicketID  int64     `json:"ticket_id"`
	Image     []byte    `json:"-"`
	Thumbnail []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PhotoRef is the queue payload for a photo upload. The blobs themselves are
// immutable, so the uploader reads them back from the ledger at send time
// instead of duplicating megabytes inside the queue row.
type PhotoRef struct {
	PhotoID  int64  `json:"photo_id"`
	TicketID int64  `json:"ticket_id"`
	OwnerID  string `json:"owner_id"`
}
