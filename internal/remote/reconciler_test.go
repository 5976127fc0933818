package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/ledger"
)

type photoRepoStub struct {
	blobs map[int64][]byte
}

func (s *photoRepoStub) Create(context.Context, *ledger.Tx, *entity.Photo) (int64, error) {
	return 0, nil
}

func (s *photoRepoStub) GetByID(_ context.Context, id int64) (*entity.Photo, error) {
	blob, ok := s.blobs[id]
	if !ok {
		return nil, common.NewAppError("PHOTO_NOT_FOUND", "missing", common.ErrNotFound)
	}
	return &entity.Photo{ID: id, Image: blob}, nil
}

func (s *photoRepoStub) GetByTicketID(context.Context, int64) (*entity.Photo, error) {
	return nil, common.NewAppError("PHOTO_NOT_FOUND", "missing", common.ErrNotFound)
}

func TestReconcilerMapsVerdicts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []BatchItemResult{
				{QueueID: 1, Status: "ok", ServerID: "srv-1"},
				{QueueID: 2, Status: "conflict"},
				{QueueID: 3, Status: "validation_error", Error: "hash mismatch"},
				// queue id 4 missing from the response on purpose
			},
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: staticToken("tok")}, nil)
	r := NewReconciler(client, &photoRepoStub{}, nil)

	items := []*entity.QueueItem{
		{ID: 1, Key: "k1", Payload: json.RawMessage(`{}`)},
		{ID: 2, Key: "k2", Payload: json.RawMessage(`{}`)},
		{ID: 3, Key: "k3", Payload: json.RawMessage(`{}`)},
		{ID: 4, Key: "k4", Payload: json.RawMessage(`{}`)},
	}
	results, err := r.SubmitBatch(context.Background(), items)
	require.NoError(t, err)
	require.Len(t, results, 4)

	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].ServerID)
	assert.Equal(t, "srv-1", *results[0].ServerID)

	// Conflict means the record is already there: success, no server id.
	require.NoError(t, results[1].Err)
	assert.Nil(t, results[1].ServerID)

	require.Error(t, results[2].Err)
	assert.Equal(t, KindValidation, KindOf(results[2].Err))

	require.Error(t, results[3].Err)
	assert.Equal(t, KindTransient, KindOf(results[3].Err))
}

func TestReconcilerUploadPhotoReadsBlobFromLedger(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		n, _ := r.Body.Read(buf)
		gotBody = buf[:n]
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: staticToken("tok")}, nil)
	photos := &photoRepoStub{blobs: map[int64][]byte{77: {0xAA, 0xBB}}}
	r := NewReconciler(client, photos, nil)

	ref, _ := json.Marshal(entity.PhotoRef{PhotoID: 77, TicketID: 10, OwnerID: "u1"})
	err := r.UploadPhoto(context.Background(), &entity.QueueItem{ID: 5, Payload: ref})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, gotBody)
}

func TestReconcilerUploadPhotoConflictIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "exists", http.StatusConflict)
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: staticToken("tok")}, nil)
	photos := &photoRepoStub{blobs: map[int64][]byte{77: {0x01}}}
	r := NewReconciler(client, photos, nil)

	ref, _ := json.Marshal(entity.PhotoRef{PhotoID: 77, TicketID: 10, OwnerID: "u1"})
	require.NoError(t, r.UploadPhoto(context.Background(), &entity.QueueItem{ID: 5, Payload: ref}))
}

func TestReconcilerUploadPhotoMissingBlobIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Token: staticToken("tok")}, nil)
	r := NewReconciler(client, &photoRepoStub{}, nil)

	ref, _ := json.Marshal(entity.PhotoRef{PhotoID: 404, TicketID: 10, OwnerID: "u1"})
	err := r.UploadPhoto(context.Background(), &entity.QueueItem{ID: 5, Payload: ref})
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
}
