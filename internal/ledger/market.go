package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
)

// MarketRepository owns rows in the markets table. Deletion is soft only so
// historic tickets keep a resolvable reference for the audit trail.
type MarketRepository interface {
	Create(ctx context.Context, tx *Tx, m *entity.Market) (int64, error)
	GetByID(ctx context.Context, id int64) (*entity.Market, error)
	List(ctx context.Context, userID string, includeDeleted bool) ([]*entity.Market, error)
	SoftDelete(ctx context.Context, tx *Tx, id int64) error
}

type marketRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewMarketRepository(store *Store, logger *slog.Logger) MarketRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &marketRepository{store: store, logger: logger}
}

func (r *marketRepository) Create(ctx context.Context, tx *Tx, m *entity.Market) (int64, error) {
	now := time.Now().UTC()
	m.CreatedAt = now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO markets (name, user_id, created_at) VALUES (?, ?, ?)`,
		m.Name, m.UserID, fmtTime(now))
	if err != nil {
		r.logger.Error("failed to create market", "name", m.Name, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	m.ID = id
	tx.Notify(TableMarkets, OpInsert, id)
	return id, nil
}

func (r *marketRepository) GetByID(ctx context.Context, id int64) (*entity.Market, error) {
	row := r.store.db.QueryRowContext(ctx,
		`SELECT id, name, user_id, created_at, deleted_at FROM markets WHERE id = ?`, id)
	m, err := scanMarket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("MARKET_NOT_FOUND", fmt.Sprintf("market %d", id), common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to load market", "market_id", id, "error", err)
		return nil, err
	}
	return m, nil
}

// List returns the user's markets; soft-deleted ones are hidden from pickers
// unless includeDeleted is set.
func (r *marketRepository) List(ctx context.Context, userID string, includeDeleted bool) ([]*entity.Market, error) {
	query := `SELECT id, name, user_id, created_at, deleted_at FROM markets WHERE user_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY name`

	rows, err := r.store.db.QueryContext(ctx, query, userID)
	if err != nil {
		r.logger.Error("failed to list markets", "user_id", userID, "error", err)
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *marketRepository) SoftDelete(ctx context.Context, tx *Tx, id int64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		fmtTime(time.Now().UTC()), id)
	if err != nil {
		r.logger.Error("failed to soft-delete market", "market_id", id, "error", err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.NewAppError("MARKET_NOT_FOUND", fmt.Sprintf("market %d", id), common.ErrNotFound)
	}
	tx.Notify(TableMarkets, OpUpdate, id)
	return nil
}

func scanMarket(row rowScanner) (*entity.Market, error) {
	var m entity.Market
	var createdAt string
	var deletedAt sql.NullString
	if err := row.Scan(&m.ID, &m.Name, &m.UserID, &createdAt, &deletedAt); err != nil {
		return nil, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if m.DeletedAt, err = nullTime(deletedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
