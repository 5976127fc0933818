package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
)

// TicketRepository owns rows in the tickets table. Fiscal columns are written
// exactly once: at draft creation and, for drafts only, via UpdateDraft. The
// lifecycle marks touch nothing but status, hash and timestamps.
type TicketRepository interface {
	CreateDraft(ctx context.Context, tx *Tx, t *entity.Ticket) (int64, error)
	UpdateDraft(ctx context.Context, tx *Tx, t *entity.Ticket) error
	GetByID(ctx context.Context, id int64) (*entity.Ticket, error)
	GetByIDTx(ctx context.Context, tx *Tx, id int64) (*entity.Ticket, error)
	List(ctx context.Context, userID string, fromDate, toDate string) ([]*entity.Ticket, error)
	MarkValidated(ctx context.Context, tx *Tx, id int64, dataHash string, at time.Time) error
	MarkCancelled(ctx context.Context, tx *Tx, id int64, reason string, at time.Time) error
	SetServerTimestamp(ctx context.Context, tx *Tx, id int64, at time.Time) error
	CountByStatus(ctx context.Context) (map[constants.TicketStatus]int, error)
}

type ticketRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewTicketRepository(store *Store, logger *slog.Logger) TicketRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &ticketRepository{store: store, logger: logger}
}

const ticketColumns = `id, user_id, market_id, ticket_type, impression_date, last_reset_date,
	reset_number, ticket_number, discount_value, cancel_value, cancel_count, payments, total,
	status, data_hash, created_at, client_timestamp, validated_at, cancelled_at,
	cancellation_reason, server_timestamp`

func (r *ticketRepository) CreateDraft(ctx context.Context, tx *Tx, t *entity.Ticket) (int64, error) {
	payments, err := json.Marshal(t.Payments)
	if err != nil {
		return 0, fmt.Errorf("encode payments: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	if t.ClientTimestamp.IsZero() {
		t.ClientTimestamp = now
	}
	t.Status = constants.TicketStatusDraft

	res, err := tx.ExecContext(ctx, `INSERT INTO tickets
		(user_id, market_id, ticket_type, impression_date, last_reset_date, reset_number,
		 ticket_number, discount_value, cancel_value, cancel_count, payments, total,
		 status, created_at, client_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.UserID, t.MarketID, string(t.Type), t.ImpressionDate, t.LastResetDate, t.ResetNumber,
		t.TicketNumber, t.DiscountValue, t.CancelValue, t.CancelCount, string(payments), t.Total,
		string(constants.TicketStatusDraft), fmtTime(now), fmtTime(t.ClientTimestamp))
	if err != nil {
		r.logger.Error("failed to create draft ticket", "user_id", t.UserID, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	tx.Notify(TableTickets, OpInsert, id)
	return id, nil
}

// UpdateDraft rewrites the fiscal fields of a draft. Guarded by status so a
// validated or cancelled ticket can never be touched.
func (r *ticketRepository) UpdateDraft(ctx context.Context, tx *Tx, t *entity.Ticket) error {
	payments, err := json.Marshal(t.Payments)
	if err != nil {
		return fmt.Errorf("encode payments: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE tickets SET
		market_id = ?, impression_date = ?, last_reset_date = ?, reset_number = ?,
		ticket_number = ?, discount_value = ?, cancel_value = ?, cancel_count = ?,
		payments = ?, total = ?
		WHERE id = ? AND status = ?`,
		t.MarketID, t.ImpressionDate, t.LastResetDate, t.ResetNumber,
		t.TicketNumber, t.DiscountValue, t.CancelValue, t.CancelCount,
		string(payments), t.Total,
		t.ID, string(constants.TicketStatusDraft))
	if err != nil {
		r.logger.Error("failed to update draft ticket", "ticket_id", t.ID, "error", err)
		return err
	}
	return r.requireOneRow(res, t.ID, "update draft")
}

func (r *ticketRepository) GetByID(ctx context.Context, id int64) (*entity.Ticket, error) {
	return r.get(ctx, r.store.db, id)
}

func (r *ticketRepository) GetByIDTx(ctx context.Context, tx *Tx, id int64) (*entity.Ticket, error) {
	return r.get(ctx, tx, id)
}

func (r *ticketRepository) get(ctx context.Context, q DBTX, id int64) (*entity.Ticket, error) {
	row := q.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("TICKET_NOT_FOUND", fmt.Sprintf("ticket %d", id), common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to load ticket", "ticket_id", id, "error", err)
		return nil, err
	}
	return t, nil
}

// List returns a user's tickets ordered by impression date then id. Date
// bounds are YYYY-MM-DD strings; empty means unbounded.
func (r *ticketRepository) List(ctx context.Context, userID string, fromDate, toDate string) ([]*entity.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE user_id = ?`
	args := []any{userID}
	if fromDate != "" {
		query += ` AND impression_date >= ?`
		args = append(args, fromDate)
	}
	if toDate != "" {
		query += ` AND impression_date <= ?`
		args = append(args, toDate)
	}
	query += ` ORDER BY impression_date, id`

	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list tickets", "user_id", userID, "error", err)
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			r.logger.Warn("failed to close ticket rows", "error", cerr)
		}
	}()

	var out []*entity.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *ticketRepository) MarkValidated(ctx context.Context, tx *Tx, id int64, dataHash string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE tickets
		SET status = ?, data_hash = ?, validated_at = ?
		WHERE id = ? AND status = ?`,
		string(constants.TicketStatusValidated), dataHash, fmtTime(at),
		id, string(constants.TicketStatusDraft))
	if err != nil {
		r.logger.Error("failed to mark ticket validated", "ticket_id", id, "error", err)
		return err
	}
	if err := r.requireOneRow(res, id, "validate"); err != nil {
		return err
	}
	tx.Notify(TableTickets, OpUpdate, id)
	return nil
}

func (r *ticketRepository) MarkCancelled(ctx context.Context, tx *Tx, id int64, reason string, at time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE tickets
		SET status = ?, cancellation_reason = ?, cancelled_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(constants.TicketStatusCancelled), reason, fmtTime(at),
		id, string(constants.TicketStatusDraft), string(constants.TicketStatusValidated))
	if err != nil {
		r.logger.Error("failed to mark ticket cancelled", "ticket_id", id, "error", err)
		return err
	}
	if err := r.requireOneRow(res, id, "cancel"); err != nil {
		return err
	}
	tx.Notify(TableTickets, OpUpdate, id)
	return nil
}

// SetServerTimestamp records the remote acknowledgment time. Deliberately not
// status-guarded: acknowledgments arrive for terminal tickets.
func (r *ticketRepository) SetServerTimestamp(ctx context.Context, tx *Tx, id int64, at time.Time) error {
	_, err := tx.ExecContext(ctx, `UPDATE tickets SET server_timestamp = ? WHERE id = ?`,
		fmtTime(at), id)
	if err != nil {
		r.logger.Error("failed to set server timestamp", "ticket_id", id, "error", err)
		return err
	}
	tx.Notify(TableTickets, OpUpdate, id)
	return nil
}

func (r *ticketRepository) CountByStatus(ctx context.Context) (map[constants.TicketStatus]int, error) {
	rows, err := r.store.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[constants.TicketStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[constants.TicketStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *ticketRepository) requireOneRow(res sql.Result, id int64, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NewAppError("TICKET_STATE", fmt.Sprintf("%s rejected for ticket %d", op, id), common.ErrInvalidState)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*entity.Ticket, error) {
	var (
		t          entity.Ticket
		marketID   sql.NullInt64
		ticketType string
		payments   string
		status     string
		createdAt  string
		clientTS   string
		validated  sql.NullString
		cancelled  sql.NullString
		reason     sql.NullString
		serverTS   sql.NullString
	)
	err := row.Scan(&t.ID, &t.UserID, &marketID, &ticketType, &t.ImpressionDate, &t.LastResetDate,
		&t.ResetNumber, &t.TicketNumber, &t.DiscountValue, &t.CancelValue, &t.CancelCount,
		&payments, &t.Total, &status, &t.DataHash, &createdAt, &clientTS,
		&validated, &cancelled, &reason, &serverTS)
	if err != nil {
		return nil, err
	}

	t.Type = constants.TicketType(ticketType)
	t.Status = constants.TicketStatus(status)
	if marketID.Valid {
		t.MarketID = &marketID.Int64
	}
	if err := json.Unmarshal([]byte(payments), &t.Payments); err != nil {
		return nil, fmt.Errorf("decode payments: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.ClientTimestamp, err = parseTime(clientTS); err != nil {
		return nil, err
	}
	if t.ValidatedAt, err = nullTime(validated); err != nil {
		return nil, err
	}
	if t.CancelledAt, err = nullTime(cancelled); err != nil {
		return nil, err
	}
	if reason.Valid {
		t.CancellationReason = &reason.String
	}
	if t.ServerTimestamp, err = nullTime(serverTS); err != nil {
		return nil, err
	}
	return &t, nil
}

func nullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
