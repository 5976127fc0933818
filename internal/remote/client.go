// Package remote talks to the backend: the batch reconciliation endpoint for
// ticket and market records and the dedicated binary upload path for photos.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Config configures the backend client.
type Config struct {
	BaseURL string
	// Token returns the current session token; an error means there is no
	// authenticated session.
	Token   func(ctx context.Context) (string, error)
	Timeout time.Duration
}

type Client struct {
	baseURL string
	token   func(ctx context.Context) (string, error)
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// BatchItem is one queue entry in a batch submission.
type BatchItem struct {
	QueueID    int64           `json:"queue_id"`
	Key        string          `json:"key"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
}

// BatchItemResult is the backend's per-item verdict.
type BatchItemResult struct {
	QueueID  int64  `json:"queue_id"`
	Status   string `json:"status"` // "ok" | "conflict" | "validation_error" | "error"
	ServerID string `json:"server_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

type batchRequest struct {
	Items []BatchItem `json:"items"`
}

type batchResponse struct {
	Results []BatchItemResult `json:"results"`
}

// SubmitBatch posts the items to the reconciliation endpoint. A returned
// error means the whole request failed (network, auth, server); per-item
// outcomes are in the result slice.
func (c *Client) SubmitBatch(ctx context.Context, items []BatchItem) ([]BatchItemResult, error) {
	body, err := json.Marshal(batchRequest{Items: items})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	raw, err := c.do(ctx, c.baseURL+"/v1/records:batch", "application/json", body)
	if err != nil {
		return nil, err
	}
	var resp batchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "malformed batch response", Cause: err}
	}
	return resp.Results, nil
}

// UploadPhoto pushes the image to the non-overwriting binary path keyed by
// owner, ticket and photo id. An already-existing object surfaces as a
// conflict error, which callers treat as success.
func (c *Client) UploadPhoto(ctx context.Context, ownerID string, ticketID, photoID int64, image []byte) error {
	url := fmt.Sprintf("%s/v1/photos/%s/%d/%d", c.baseURL, ownerID, ticketID, photoID)
	_, err := c.do(ctx, url, "application/octet-stream", image)
	return err
}

func (c *Client) do(ctx context.Context, url, contentType string, body []byte) ([]byte, error) {
	reqID := uuid.New().String()
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "build request", Cause: err}
	}
	req.Header.Set("Content-Type", contentType)
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return nil, &Error{Kind: KindAuth, Message: "no session token", Cause: err}
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	c.logger.Info("remote.request", "req_id", reqID, "url", url, "content_length", len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("remote.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, &Error{Kind: KindTransient, Message: "request failed", Cause: err}
	}
	defer func(rc io.ReadCloser) {
		if cerr := rc.Close(); cerr != nil {
			c.logger.Warn("remote.response_body_close_error", "req_id", reqID, "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)

	c.logger.Info("remote.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		return raw, statusError(resp.StatusCode, raw)
	}
	return raw, nil
}
