// Package hash computes the deterministic integrity digest stored on every
// validated ticket and used as audit proof.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/placette/zticket/internal/entity"
)

// TicketFields is the canonical subset of fiscal fields covered by the hash.
type TicketFields struct {
	ImpressionDate string
	Total          int64
	Payments       []entity.Payment
	TicketNumber   int
	UserID         string
}

// ComputeTicketHash returns the 64-char lowercase hex SHA-256 of the canonical
// serialization of fields. Payments are sorted by mode name so list order
// never affects the result. Pure function; no business validation.
func ComputeTicketHash(fields TicketFields) string {
	payments := make([]entity.Payment, len(fields.Payments))
	copy(payments, fields.Payments)
	sort.Slice(payments, func(i, j int) bool {
		if payments[i].Mode != payments[j].Mode {
			return payments[i].Mode < payments[j].Mode
		}
		return payments[i].Value < payments[j].Value
	})

	var b strings.Builder
	b.WriteString(fields.ImpressionDate)
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", fields.Total)
	b.WriteByte('|')
	for i, p := range payments {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s:%d", strings.ToLower(string(p.Mode)), p.Value)
	}
	b.WriteByte('|')
	fmt.Fprintf(&b, "%d", fields.TicketNumber)
	b.WriteByte('|')
	b.WriteString(fields.UserID)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
