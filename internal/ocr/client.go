// Package ocr consumes the external text-extraction service as a black box.
// Any failure here maps to "fall back to manual entry"; the ledger write is
// never blocked on the OCR service.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/placette/zticket/constants"
	"github.com/placette/zticket/internal/common"
	"github.com/placette/zticket/internal/entity"
	"github.com/placette/zticket/internal/lifecycle"
)

// reviewThreshold marks low-confidence extractions as needing review before
// validation.
const reviewThreshold = 0.60

// Field is one extracted fiscal value with its confidence score.
type Field struct {
	Value      string  `json:"value"`
	Confidence float32 `json:"confidence"`
}

// Result is a structured extraction for one ticket image.
type Result struct {
	Fields     map[string]Field
	Confidence float32
}

// NeedsReview reports whether the overall confidence is below the threshold.
func (r *Result) NeedsReview() bool { return r.Confidence < reviewThreshold }

// Prefill maps the extracted fields onto a draft input. Unparseable numeric
// fields are simply left at their zero value; the form surfaces them for
// manual completion.
func (r *Result) Prefill(userID string) lifecycle.DraftInput {
	in := lifecycle.DraftInput{UserID: userID}
	if f, ok := r.Fields["impression_date"]; ok {
		in.ImpressionDate = f.Value
	}
	if f, ok := r.Fields["last_reset_date"]; ok {
		in.LastResetDate = f.Value
	}
	in.ResetNumber = intField(r.Fields, "reset_number")
	in.TicketNumber = intField(r.Fields, "ticket_number")
	in.DiscountValue = int64Field(r.Fields, "discount_value")
	in.CancelValue = int64Field(r.Fields, "cancel_value")
	in.CancelCount = intField(r.Fields, "cancel_count")
	in.Total = int64Field(r.Fields, "total")
	if f, ok := r.Fields["payments"]; ok {
		var payments []entity.Payment
		if err := json.Unmarshal([]byte(f.Value), &payments); err == nil {
			in.Payments = payments
		}
	}
	return in
}

func intField(fields map[string]Field, name string) int {
	f, ok := fields[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(f.Value)
	if err != nil {
		return 0
	}
	return n
}

func int64Field(fields map[string]Field, name string) int64 {
	f, ok := fields[name]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(f.Value, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Config configures the OCR client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type extractRequest struct {
	TicketID int64  `json:"ticket_id"`
	Image    string `json:"image"` // base64
	Type     string `json:"type"`
}

// Extract sends the image for field extraction. Every failure is wrapped in
// common.ErrOCRFallback so callers can uniformly degrade to manual entry.
func (c *Client) Extract(ctx context.Context, ticketID int64, image []byte) (*Result, error) {
	if c.baseURL == "" {
		return nil, fallback("ocr service not configured", nil)
	}
	reqID := uuid.New().String()
	start := time.Now()

	body, err := json.Marshal(extractRequest{
		TicketID: ticketID,
		Image:    base64.StdEncoding.EncodeToString(image),
		Type:     string(constants.TicketTypeStatistics),
	})
	if err != nil {
		return nil, fallback("encode ocr request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fallback("build ocr request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("ocr.request", "req_id", reqID, "ticket_id", ticketID, "image_bytes", len(image))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ocr.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fallback("ocr request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(resp.Body)
	c.logger.Info("ocr.response", "req_id", reqID, "status", resp.StatusCode, "bytes", len(raw), "elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode/100 != 2 {
		return nil, fallback(fmt.Sprintf("ocr status %d", resp.StatusCode), nil)
	}
	if err := validateResultJSON(raw); err != nil {
		c.logger.Warn("ocr.invalid_response", "req_id", reqID, "error", err)
		return nil, fallback("invalid ocr response", err)
	}
	result, err := decodeResult(raw)
	if err != nil {
		return nil, fallback("decode ocr response", err)
	}
	return result, nil
}

func fallback(message string, cause error) error {
	if cause == nil {
		cause = common.ErrOCRFallback
	} else {
		cause = fmt.Errorf("%w: %w", common.ErrOCRFallback, cause)
	}
	return common.NewAppError("OCR_FALLBACK", message, cause)
}
