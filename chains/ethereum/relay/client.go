package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/skip-mev/feerelay/internal/retry"
)

const (
	// SponsorshipPath is the relayer endpoint for ERC20 paymaster sponsorship.
	SponsorshipPath = "/api/erc20_paymaster/v1"

	DefaultTimeout = 15 * time.Second

	maxResponseBody = 1 << 20
)

// Config configures the relayer client.
type Config struct {
	BaseURL string
	// Timeout bounds one HTTP round trip. It is unrelated to how long the
	// sponsored transaction may take to confirm.
	Timeout time.Duration
	// RequestsPerSecond throttles calls; zero disables the limiter.
	RequestsPerSecond float64
	// MaxAttempts above one retries responses the relayer marks transient (429, 503).
	MaxAttempts int
	APIKey      string
}

// Client talks to a paymaster relayer over HTTP.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	endpoint   string
	apiKey     string
	limiter    *rate.Limiter
	policy     retry.Policy
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(logger *zap.Logger, cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("relay base url is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		logger:     logger.With(zap.String("module", "relay_client")),
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   base + SponsorshipPath,
		apiKey:     cfg.APIKey,
		policy:     retry.NoRetry,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.MaxAttempts > 1 {
		c.policy = retry.Policy{MaxAttempts: cfg.MaxAttempts, BaseDelay: 500 * time.Millisecond}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequestSponsorship posts req to the relayer and parses its answer.
func (c *Client) RequestSponsorship(ctx context.Context, req SponsorshipRequest) (*SponsorshipResponse, error) {
	body, err := json.Marshal(req.body())
	if err != nil {
		return nil, fmt.Errorf("marshal sponsorship request: %w", err)
	}

	var resp *SponsorshipResponse
	attempt := 0
	err = retry.Do(ctx, c.policy, func(ctx context.Context) error {
		attempt++
		var err error
		resp, err = c.post(ctx, body)
		var rejected *RejectedError
		if errors.As(err, &rejected) && rejected.Transient() {
			c.logger.Warn("relayer asked to retry",
				zap.Int("attempt", attempt),
				zap.Int("status", rejected.StatusCode))
			return retry.Transient(err)
		}
		return retry.Terminal(err)
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, body []byte) (*SponsorshipResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: waiting for rate limiter: %w", ErrRelayUnavailable, err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ErrRelayUnavailable, err)
	}
	c.logger.Debug("relayer responded",
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("latency", time.Since(start)),
		zap.Int("bytes", len(respBody)))

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, newRejectedError(httpResp.StatusCode, respBody)
	}
	return parseResponse(respBody)
}
