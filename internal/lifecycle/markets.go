package lifecycle

import (
	"context"
	"log/slog"
	"strings"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
)

// MarketService creates and soft-deletes selling locations. Creation mirrors
// the ticket path: the market row and its CREATE queue item commit together.
// Deletion is local-only; the remote mirror is append-only.
type MarketService struct {
	store   *ledger.Store
	markets ledger.MarketRepository
	queue   ledger.QueueRepository
	logger  *slog.Logger
}

func NewMarketService(store *ledger.Store, markets ledger.MarketRepository, queue ledger.QueueRepository, logger *slog.Logger) *MarketService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketService{store: store, markets: markets, queue: queue, logger: logger}
}

func (s *MarketService) Create(ctx context.Context, userID, name string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, common.ValidationErrorf("market name is required")
	}
	if strings.TrimSpace(userID) == "" {
		return 0, common.ValidationErrorf("user id is required")
	}
	m := &entity.Market{Name: name, UserID: userID}
	err := s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		if _, err := s.markets.Create(ctx, tx, m); err != nil {
			return err
		}
		_, err := s.queue.Enqueue(ctx, tx, constants.ActionCreate, constants.EntityMarket, m.ID, m)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.logger.Info("created market", "market_id", m.ID, "name", name)
	return m.ID, nil
}

func (s *MarketService) Delete(ctx context.Context, id int64) error {
	return s.store.WithTx(ctx, func(tx *ledger.Tx) error {
		return s.markets.SoftDelete(ctx, tx, id)
	})
}
