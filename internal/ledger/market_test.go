package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
)

func createMarket(t *testing.T, store *Store, markets MarketRepository, name string) int64 {
	t.Helper()
	m := &entity.Market{Name: name, UserID: "u1"}
	err := store.WithTx(context.Background(), func(tx *Tx) error {
		_, err := markets.Create(context.Background(), tx, m)
		return err
	})
	require.NoError(t, err)
	return m.ID
}

func TestMarketSoftDeleteKeepsRow(t *testing.T) {
	store := newTestStore(t)
	markets := NewMarketRepository(store, nil)

	id := createMarket(t, store, markets, "Marché Bastille")
	keep := createMarket(t, store, markets, "Marché Aligre")

	err := store.WithTx(context.Background(), func(tx *Tx) error {
		return markets.SoftDelete(context.Background(), tx, id)
	})
	require.NoError(t, err)

	active, err := markets.List(context.Background(), "u1", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep, active[0].ID)

	all, err := markets.List(context.Background(), "u1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// The row stays resolvable for the audit trail.
	m, err := markets.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.NotNil(t, m.DeletedAt)

	// Deleting twice is rejected.
	err = store.WithTx(context.Background(), func(tx *Tx) error {
		return markets.SoftDelete(context.Background(), tx, id)
	})
	require.Error(t, err)
}

func TestPhotoWriteOnceAndLookup(t *testing.T) {
	store := newTestStore(t)
	tickets := NewTicketRepository(store, nil)
	photos := NewPhotoRepository(store, nil)

	ticketID := createDraft(t, store, tickets, "u1")

	p := &entity.Photo{TicketID: ticketID, Image: []byte{0xFF, 0xD8, 0x01}, Thumbnail: []byte{0x01}}
	err := store.WithTx(context.Background(), func(tx *Tx) error {
		_, err := photos.Create(context.Background(), tx, p)
		return err
	})
	require.NoError(t, err)
	require.NotZero(t, p.ID)

	byID, err := photos.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0x01}, byID.Image)

	byTicket, err := photos.GetByTicketID(context.Background(), ticketID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byTicket.ID)

	_, err = photos.GetByTicketID(context.Background(), 999)
	require.ErrorIs(t, err, common.ErrNotFound)
}
