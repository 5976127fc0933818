package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
)

// QueueRepository owns rows in the sync_queue table. Items are enqueued in
// the same transaction as the ledger mutation they represent; completed rows
// are retained for audit history and never deleted.
type QueueRepository interface {
	Enqueue(ctx context.Context, tx *Tx, action constants.SyncAction, entityType constants.EntityType, entityID int64, payload any) (*entity.QueueItem, error)
	Pending(ctx context.Context, limit int) ([]*entity.QueueItem, error)
	GetByID(ctx context.Context, id int64) (*entity.QueueItem, error)
	MarkInProgress(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, serverID *string) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	IncrementRetry(ctx context.Context, id int64, errorMessage string) (int, error)
	RetryFailed(ctx context.Context) (int, error)
	CountPending(ctx context.Context) (int, error)
}

type queueRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewQueueRepository(store *Store, logger *slog.Logger) QueueRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &queueRepository{store: store, logger: logger}
}

const queueColumns = `id, key, action, entity_type, entity_id, payload, status, retries,
	created_at, last_attempt_at, error_message, server_id`

func (r *queueRepository) Enqueue(ctx context.Context, tx *Tx, action constants.SyncAction, entityType constants.EntityType, entityID int64, payload any) (*entity.QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode queue payload: %w", err)
	}
	item := &entity.QueueItem{
		Key:        uuid.New().String(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    raw,
		Status:     constants.QueueStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO sync_queue
		(key, action, entity_type, entity_id, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.Key, string(action), string(entityType), entityID, string(raw),
		string(constants.QueueStatusPending), fmtTime(item.CreatedAt))
	if err != nil {
		r.logger.Error("failed to enqueue sync item", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
		return nil, err
	}
	if item.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	tx.Notify(TableSyncQueue, OpInsert, item.ID)
	r.logger.Info("enqueued sync item", "queue_id", item.ID, "action", action, "entity_type", entityType, "entity_id", entityID)
	return item, nil
}

// Pending returns pending items FIFO by creation time, preserving ticket
// history ordering on the remote side.
func (r *queueRepository) Pending(ctx context.Context, limit int) ([]*entity.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM sync_queue WHERE status = ? ORDER BY created_at, id`
	args := []any{string(constants.QueueStatusPending)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("failed to list pending sync items", "error", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (r *queueRepository) GetByID(ctx context.Context, id int64) (*entity.QueueItem, error) {
	row := r.store.db.QueryRowContext(ctx, `SELECT `+queueColumns+` FROM sync_queue WHERE id = ?`, id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("QUEUE_ITEM_NOT_FOUND", fmt.Sprintf("queue item %d", id), common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to load queue item", "queue_id", id, "error", err)
		return nil, err
	}
	return item, nil
}

func (r *queueRepository) MarkInProgress(ctx context.Context, id int64) error {
	return r.transition(ctx, id, `UPDATE sync_queue SET status = ?, last_attempt_at = ? WHERE id = ? AND status = ?`,
		string(constants.QueueStatusInProgress), fmtTime(time.Now().UTC()), id, string(constants.QueueStatusPending))
}

// Release hands a claimed item back to PENDING without touching its retry
// count. Used when a cycle halts for reasons unrelated to the item itself
// (invalid session).
func (r *queueRepository) Release(ctx context.Context, id int64) error {
	return r.transition(ctx, id, `UPDATE sync_queue SET status = ? WHERE id = ? AND status = ?`,
		string(constants.QueueStatusPending), id, string(constants.QueueStatusInProgress))
}

// MarkCompleted and MarkFailed accept PENDING as well as IN_PROGRESS: capture
// settles an extraction item it never claimed, and an item that just had a
// retry recorded sits back in PENDING when its budget runs out. Terminal
// states only ever change through RetryFailed.
func (r *queueRepository) MarkCompleted(ctx context.Context, id int64, serverID *string) error {
	return r.transition(ctx, id, `UPDATE sync_queue SET status = ?, server_id = ?, error_message = NULL WHERE id = ? AND status IN (?, ?)`,
		string(constants.QueueStatusCompleted), serverID, id,
		string(constants.QueueStatusPending), string(constants.QueueStatusInProgress))
}

func (r *queueRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	return r.transition(ctx, id, `UPDATE sync_queue SET status = ?, error_message = ? WHERE id = ? AND status IN (?, ?)`,
		string(constants.QueueStatusFailed), errorMessage, id,
		string(constants.QueueStatusPending), string(constants.QueueStatusInProgress))
}

// IncrementRetry records a failed attempt and hands the item back to PENDING
// for the next cycle. Returns the new retry count so the engine can apply the
// cap. Retries only ever increase.
func (r *queueRepository) IncrementRetry(ctx context.Context, id int64, errorMessage string) (int, error) {
	var retries int
	err := r.store.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sync_queue
			SET status = ?, retries = retries + 1, last_attempt_at = ?, error_message = ?
			WHERE id = ?`,
			string(constants.QueueStatusPending), fmtTime(time.Now().UTC()), errorMessage, id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return common.NewAppError("QUEUE_ITEM_NOT_FOUND", fmt.Sprintf("queue item %d", id), common.ErrNotFound)
		}
		row := tx.QueryRowContext(ctx, `SELECT retries FROM sync_queue WHERE id = ?`, id)
		if err := row.Scan(&retries); err != nil {
			return err
		}
		tx.Notify(TableSyncQueue, OpUpdate, id)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to increment retry", "queue_id", id, "error", err)
		return 0, err
	}
	return retries, nil
}

// RetryFailed re-queues every failed item for another round of automatic
// processing. Retry counts are kept for diagnostics.
func (r *queueRepository) RetryFailed(ctx context.Context) (int, error) {
	var n int64
	err := r.store.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE sync_queue SET status = ?, error_message = NULL WHERE status = ?`,
			string(constants.QueueStatusPending), string(constants.QueueStatusFailed))
		if err != nil {
			return err
		}
		if n, err = res.RowsAffected(); err != nil {
			return err
		}
		if n > 0 {
			tx.Notify(TableSyncQueue, OpUpdate, 0)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to retry failed items", "error", err)
		return 0, err
	}
	r.logger.Info("re-queued failed sync items", "count", n)
	return int(n), nil
}

func (r *queueRepository) CountPending(ctx context.Context) (int, error) {
	var n int
	row := r.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`,
		string(constants.QueueStatusPending))
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *queueRepository) transition(ctx context.Context, id int64, query string, args ...any) error {
	return r.store.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.Error("failed queue transition", "queue_id", id, "error", err)
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return common.NewAppError("QUEUE_STATE", fmt.Sprintf("transition rejected for queue item %d", id), common.ErrInvalidState)
		}
		tx.Notify(TableSyncQueue, OpUpdate, id)
		return nil
	})
}

func scanQueueItem(row rowScanner) (*entity.QueueItem, error) {
	var (
		item        entity.QueueItem
		action      string
		entityType  string
		payload     string
		status      string
		createdAt   string
		lastAttempt sql.NullString
		errMsg      sql.NullString
		serverID    sql.NullString
	)
	err := row.Scan(&item.ID, &item.Key, &action, &entityType, &item.EntityID, &payload,
		&status, &item.Retries, &createdAt, &lastAttempt, &errMsg, &serverID)
	if err != nil {
		return nil, err
	}
	item.Action = constants.SyncAction(action)
	item.EntityType = constants.EntityType(entityType)
	item.Payload = json.RawMessage(payload)
	item.Status = constants.QueueStatus(status)
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.LastAttemptAt, err = nullTime(lastAttempt); err != nil {
		return nil, err
	}
	if errMsg.Valid {
		item.ErrorMessage = &errMsg.String
	}
	if serverID.Valid {
		item.ServerID = &serverID.String
	}
	return &item, nil
}
