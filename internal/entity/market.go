package entity

import "time"

// Market is a named selling location owned by a user. Markets are
// soft-deleted only: historic tickets keep referencing them after deletion.
type Market struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	UserID    string     `json:"user_id"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
