package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"crosspost/internal/channel"
)

// Config holds generation service client configuration.
type Config struct {
	BaseURL        string
	TargetLength   int
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RatePerSec     float64
	RateBurst      int
}

// Client calls the external generation service. The service is treated as
// unreliable and possibly slow; requests carry a timeout and a small bounded
// retry, and a shared rate limiter keeps a wide fan-out from stampeding it.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	targetLength   int
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:        cfg.BaseURL,
		targetLength:   cfg.TargetLength,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		limiter:        rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
		logger:         logger.With("component", "generator"),
	}
}

type generateRequest struct {
	ToneDescriptor string `json:"tone_descriptor"`
	CharacterLimit int    `json:"character_limit"`
	TargetLength   int    `json:"target_length"`
	SourceText     string `json:"source_text"`
}

type generateResponse struct {
	Text string `json:"text"`
}

// Generate produces raw channel-adapted text for one brief. Failures here
// are channel-local; the caller isolates them per channel.
func (c *Client) Generate(ctx context.Context, spec channel.Spec, sourceText string) (string, error) {
	var text string
	var err error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}

		text, err = c.doRequest(ctx, spec, sourceText)
		if err == nil {
			return text, nil
		}

		if attempt == c.maxAttempts {
			break
		}

		backoff := c.calculateBackoff(attempt)
		c.logger.Warn("generation request failed, retrying",
			"channel", spec.ChannelID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("after %d attempts: %w", c.maxAttempts, err)
}

func (c *Client) doRequest(ctx context.Context, spec channel.Spec, sourceText string) (string, error) {
	body, err := json.Marshal(generateRequest{
		ToneDescriptor: spec.ToneDescriptor,
		CharacterLimit: spec.CharacterLimit,
		TargetLength:   c.targetLength,
		SourceText:     sourceText,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if genResp.Text == "" {
		return "", errors.New("empty generation response")
	}

	return genResp.Text, nil
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	backoff := c.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	if backoff > c.maxBackoff {
		backoff = c.maxBackoff
	}
	return backoff
}
