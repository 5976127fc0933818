package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
)

func TestExtractDecodesValidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/extract", r.URL.Path)
		var req extractRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(7), req.TicketID)
		img, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xFF, 0xD8}, img)

		_, _ = w.Write([]byte(`{
			"confidence": 0.91,
			"fields": {
				"impression_date": {"value": "2026-03-14", "confidence": 0.97},
				"ticket_number": {"value": "42", "confidence": 0.88},
				"total": {"value": "7500", "confidence": 0.93},
				"payments": {"value": "[{\"mode\":\"CARD\",\"value\":7500}]", "confidence": 0.81}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	res, err := c.Extract(context.Background(), 7, []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.InDelta(t, 0.91, res.Confidence, 0.001)
	assert.False(t, res.NeedsReview())

	in := res.Prefill("u1")
	assert.Equal(t, "u1", in.UserID)
	assert.Equal(t, "2026-03-14", in.ImpressionDate)
	assert.Equal(t, 42, in.TicketNumber)
	assert.Equal(t, int64(7500), in.Total)
	require.Len(t, in.Payments, 1)
	assert.Equal(t, entity.Payment{Mode: constants.PaymentCard, Value: 7500}, in.Payments[0])
}

func TestExtractLowConfidenceNeedsReview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"confidence": 0.35, "fields": {}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	res, err := c.Extract(context.Background(), 1, []byte{1})
	require.NoError(t, err)
	assert.True(t, res.NeedsReview())
}

func TestExtractRejectsSchemaViolations(t *testing.T) {
	bodies := []string{
		`{"fields": {}}`,                          // missing confidence
		`{"confidence": 1.7, "fields": {}}`,       // confidence out of range
		`{"confidence": 0.9, "fields": {"total": {"value": "7500"}}}`, // field missing confidence
		`{"confidence": 0.9, "fields": {"total": {"value": 7500, "confidence": 0.9}}}`, // numeric value
		`not json at all`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))

		c := NewClient(Config{BaseURL: srv.URL}, nil)
		_, err := c.Extract(context.Background(), 1, []byte{1})
		require.Error(t, err, "body %s", body)
		assert.ErrorIs(t, err, common.ErrOCRFallback, "body %s", body)
		srv.Close()
	}
}

func TestExtractServerErrorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, nil)
	_, err := c.Extract(context.Background(), 1, []byte{1})
	require.ErrorIs(t, err, common.ErrOCRFallback)
}

func TestExtractUnconfiguredFallsBack(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.Extract(context.Background(), 1, []byte{1})
	require.ErrorIs(t, err, common.ErrOCRFallback)
}

func TestPrefillIgnoresUnparseableNumbers(t *testing.T) {
	r := &Result{Fields: map[string]Field{
		"ticket_number": {Value: "forty-two", Confidence: 0.5},
		"total":         {Value: "75,00", Confidence: 0.5},
		"payments":      {Value: "not json", Confidence: 0.5},
	}}
	in := r.Prefill("u1")
	assert.Zero(t, in.TicketNumber)
	assert.Zero(t, in.Total)
	assert.Nil(t, in.Payments)
}
