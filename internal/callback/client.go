package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/orders-api/internal/models"
	"github.com/noah-isme/orders-api/pkg/middleware/requestid"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Config locates the completion endpoint.
type Config struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// Client posts bulk deletion outcomes to the external completion endpoint.
type Client struct {
	httpClient *http.Client
	url        string
	token      string
	logger     *zap.Logger
}

// New constructs a client. An empty URL turns every post into a logged no-op.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        strings.TrimSpace(cfg.URL),
		token:      cfg.Token,
		logger:     logger.With(zap.String("component", "completion_callback")),
	}
}

// Post sends payload as JSON. With backdoor set the payload is only logged.
func (c *Client) Post(ctx context.Context, payload models.CallbackPayload, backdoor bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}

	if backdoor {
		c.logger.Info("callback suppressed by backdoor", zap.String("request_id", payload.RequestID), zap.ByteString("payload", body))
		return nil
	}
	if c.url == "" {
		c.logger.Warn("callback url not configured", zap.String("request_id", payload.RequestID))
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.HeaderName, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback to %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("callback returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("callback delivered", zap.String("request_id", payload.RequestID), zap.Int("status", resp.StatusCode))
	return nil
}
