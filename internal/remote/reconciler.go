package remote

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
)

// ItemResult is the reconciler's verdict for one queue item. Err nil means
// the backend acknowledged the record (including "already exists").
type ItemResult struct {
	QueueID  int64
	ServerID *string
	Err      error
}

// Reconciler translates queue items into backend calls. Ticket and market
// records go through the generic batch endpoint; photo blobs go through the
// dedicated upload path, read back from the ledger at send time.
type Reconciler struct {
	client *Client
	photos ledger.PhotoRepository
	logger *slog.Logger
}

func NewReconciler(client *Client, photos ledger.PhotoRepository, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{client: client, photos: photos, logger: logger}
}

// SubmitBatch sends ticket/market items in one request. A non-nil error is a
// request-level failure (network/auth) that applies to every item.
func (r *Reconciler) SubmitBatch(ctx context.Context, items []*entity.QueueItem) ([]ItemResult, error) {
	batch := make([]BatchItem, 0, len(items))
	for _, item := range items {
		batch = append(batch, BatchItem{
			QueueID:    item.ID,
			Key:        item.Key,
			Action:     string(item.Action),
			EntityType: string(item.EntityType),
			EntityID:   item.EntityID,
			Payload:    item.Payload,
		})
	}
	verdicts, err := r.client.SubmitBatch(ctx, batch)
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]BatchItemResult, len(verdicts))
	for _, v := range verdicts {
		byID[v.QueueID] = v
	}

	out := make([]ItemResult, 0, len(items))
	for _, item := range items {
		v, ok := byID[item.ID]
		if !ok {
			out = append(out, ItemResult{QueueID: item.ID, Err: &Error{Kind: KindTransient, Message: "item missing from batch response"}})
			continue
		}
		out = append(out, r.mapVerdict(item.ID, v))
	}
	return out, nil
}

func (r *Reconciler) mapVerdict(queueID int64, v BatchItemResult) ItemResult {
	switch v.Status {
	case "ok":
		res := ItemResult{QueueID: queueID}
		if v.ServerID != "" {
			res.ServerID = &v.ServerID
		}
		return res
	case "conflict":
		// Idempotent retry: the record is already there.
		r.logger.Info("remote record already exists", "queue_id", queueID)
		return ItemResult{QueueID: queueID}
	case "validation_error":
		return ItemResult{QueueID: queueID, Err: &Error{Kind: KindValidation, Message: v.Error}}
	default:
		return ItemResult{QueueID: queueID, Err: &Error{Kind: KindTransient, Message: v.Error}}
	}
}

// UploadPhoto resolves the queue payload to the stored blob and pushes it.
// "Already exists" counts as success.
func (r *Reconciler) UploadPhoto(ctx context.Context, item *entity.QueueItem) error {
	var ref entity.PhotoRef
	if err := json.Unmarshal(item.Payload, &ref); err != nil {
		return &Error{Kind: KindFatal, Message: "malformed photo payload", Cause: err}
	}
	photo, err := r.photos.GetByID(ctx, ref.PhotoID)
	if err != nil {
		return &Error{Kind: KindFatal, Message: "photo blob missing from ledger", Cause: err}
	}
	err = r.client.UploadPhoto(ctx, ref.OwnerID, ref.TicketID, ref.PhotoID, photo.Image)
	if KindOf(err) == KindConflict {
		r.logger.Info("photo already uploaded", "queue_id", item.ID, "photo_id", ref.PhotoID)
		return nil
	}
	return err
}
