package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Ref is a stable reference to a stored asset.
type Ref struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client talks to the external asset store. Uploads return a stable
// reference; deletion is best-effort and callers ignore its failures.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: cfg.BaseURL,
		logger:  logger.With("component", "assets"),
	}
}

// Upload stores one raw payload and returns its reference.
func (c *Client) Upload(ctx context.Context, contentType string, payload io.Reader) (*Ref, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/assets", payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var ref Ref
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &ref, nil
}

// Delete removes an asset by reference. Failures are logged and swallowed;
// an orphaned asset is not worth failing a caller over.
func (c *Client) Delete(ctx context.Context, id string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/assets/"+id, nil)
	if err != nil {
		c.logger.Warn("asset delete request failed", "id", id, "error", err)
		return
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("asset delete failed", "id", id, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		c.logger.Warn("asset delete rejected", "id", id, "status", resp.StatusCode)
	}
}
