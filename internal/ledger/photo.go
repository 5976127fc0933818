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

// PhotoRepository owns rows in the photos table. There is no update or delete
// path: a photo is written once alongside its draft ticket.
type PhotoRepository interface {
	Create(ctx context.Context, tx *Tx, p *entity.Photo) (int64, error)
	GetByID(ctx context.Context, id int64) (*entity.Photo, error)
	GetByTicketID(ctx context.Context, ticketID int64) (*entity.Photo, error)
}

type photoRepository struct {
	store  *Store
	logger *slog.Logger
}

func NewPhotoRepository(store *Store, logger *slog.Logger) PhotoRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &photoRepository{store: store, logger: logger}
}

func (r *photoRepository) Create(ctx context.Context, tx *Tx, p *entity.Photo) (int64, error) {
	now := time.Now().UTC()
	p.CreatedAt = now
	res, err := tx.ExecContext(ctx,
		`INSERT INTO photos (ticket_id, image, thumbnail, created_at) VALUES (?, ?, ?, ?)`,
		p.TicketID, p.Image, p.Thumbnail, fmtTime(now))
	if err != nil {
		r.logger.Error("failed to store photo", "ticket_id", p.TicketID, "error", err)
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	p.ID = id
	tx.Notify(TablePhotos, OpInsert, id)
	return id, nil
}

func (r *photoRepository) GetByID(ctx context.Context, id int64) (*entity.Photo, error) {
	return r.scanOne(r.store.db.QueryRowContext(ctx,
		`SELECT id, ticket_id, image, thumbnail, created_at FROM photos WHERE id = ?`, id), id)
}

func (r *photoRepository) GetByTicketID(ctx context.Context, ticketID int64) (*entity.Photo, error) {
	return r.scanOne(r.store.db.QueryRowContext(ctx,
		`SELECT id, ticket_id, image, thumbnail, created_at FROM photos WHERE ticket_id = ? ORDER BY id LIMIT 1`,
		ticketID), ticketID)
}

func (r *photoRepository) scanOne(row *sql.Row, ref int64) (*entity.Photo, error) {
	var p entity.Photo
	var createdAt string
	err := row.Scan(&p.ID, &p.TicketID, &p.Image, &p.Thumbnail, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("PHOTO_NOT_FOUND", fmt.Sprintf("photo for %d", ref), common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to load photo", "ref", ref, "error", err)
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}
