// Package recognition submits captured frames to the remote recognition
// endpoint and decodes its answer.
package recognition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cjeanneret/SnapMatch/internal/debug"
	"github.com/cjeanneret/SnapMatch/internal/hw/camera"
)

// DefaultTimeout bounds one submission when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// maxResponseBytes caps the response body read from the endpoint.
const maxResponseBytes = 1 << 20

// MatchResult is the endpoint's answer for one frame.
type MatchResult struct {
	Match string `json:"match"`
}

// Config holds client configuration.
type Config struct {
	Endpoint   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option is a functional option for configuring the client.
type Option func(*Config)

// WithTimeout sets the bound on one submission round-trip.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Config) { c.HTTPClient = h }
}

// Client posts frames to the recognition endpoint. It sends exactly one
// request per Submit and never retries.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, opts ...Option) *Client {
	cfg := Config{Endpoint: endpoint, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
	}
}

// Endpoint returns the URL frames are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type submitRequest struct {
	Image string `json:"image"`
}

// Submit posts frame and returns the match. Every failure is a
// *TransmissionError, except cancellation of ctx by the caller, which
// returns ctx.Err().
func (c *Client) Submit(ctx context.Context, frame *camera.CapturedFrame) (*MatchResult, error) {
	if frame == nil {
		return nil, errors.New("recognition: nil frame")
	}
	body, err := json.Marshal(submitRequest{Image: frame.DataURL()})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	debug.Verbose("Recognition: POST %s (%d bytes)", c.endpoint, len(body))
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classify(ctx, reqCtx, err)
	}
	debug.Verbose("Recognition: %d in %v", resp.StatusCode, time.Since(start).Round(time.Millisecond))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransmissionError{
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
		}
	}

	var result MatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &TransmissionError{Kind: KindMalformed, StatusCode: resp.StatusCode, Err: err}
	}
	if result.Match == "" {
		return nil, &TransmissionError{
			Kind:       KindMalformed,
			StatusCode: resp.StatusCode,
			Message:    "response has no match field",
		}
	}
	return &result, nil
}

// classify maps a transport failure to a TransmissionError. Cancellation by
// the caller is passed through unchanged.
func (c *Client) classify(parent, reqCtx context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TransmissionError{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransmissionError{Kind: KindTimeout, Err: err}
	}
	return &TransmissionError{Kind: KindNetwork, Err: err}
}
