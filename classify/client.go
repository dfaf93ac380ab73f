// Package classify sends feature vectors to the remote classification
// service and turns its answer, or its failure, into a Verdict.
//
// Failures are never retried and never merged with a real label: every
// network error, timeout, non-2xx status or malformed answer becomes a
// LabelError verdict.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/clickguard/feature"
)

// DefaultEndpoint is where the reference classifier listens.
const DefaultEndpoint = "http://localhost:5000/predict"

// maxResponseBody caps how much of a classifier answer is read (1 MiB).
const maxResponseBody int64 = 1 << 20

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("classify: circuit open")

// StatusError reports a non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classify: status %d: %s", e.Code, e.Body)
}

// Client posts vectors to a classifier endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	breaker  *Breaker
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTimeout sets the per-call timeout. Default: 10s.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.http.Timeout = d }
}

// WithBreaker guards calls with b.
func WithBreaker(b *Breaker) Option {
	return func(cl *Client) { cl.breaker = b }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// New creates a Client. An empty endpoint means DefaultEndpoint.
func New(endpoint string, opts ...Option) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Classify posts v and returns the verdict. On failure the returned Verdict
// is an error verdict and err explains why; both are always usable.
func (c *Client) Classify(ctx context.Context, v feature.Vector) (Verdict, error) {
	if c.breaker != nil && !c.breaker.Allow() {
		return ErrorVerdict(ErrCircuitOpen), ErrCircuitOpen
	}

	verdict, err := c.do(ctx, v)
	if c.breaker != nil {
		if err != nil && ctx.Err() == nil {
			c.breaker.Failure()
		} else if err == nil {
			c.breaker.Success()
		}
	}
	if err != nil {
		c.logger.Warn("classify: call failed", "url", v.URL, "endpoint", c.endpoint, "error", err)
		return ErrorVerdict(err), err
	}

	c.logger.Info("classify: verdict",
		"url", v.URL, "prediction", verdict.Label, "confidence", verdict.Confidence.Percent())
	return verdict, nil
}

func (c *Client) do(ctx context.Context, v feature.Vector) (Verdict, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("classify: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("classify: do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return Verdict{}, fmt.Errorf("classify: read response: %w", err)
	}
	if int64(len(data)) > maxResponseBody {
		return Verdict{}, fmt.Errorf("classify: response exceeds %d bytes", maxResponseBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Verdict{}, &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var verdict Verdict
	if err := json.Unmarshal(data, &verdict); err != nil {
		return Verdict{}, fmt.Errorf("classify: decode: %w", err)
	}
	if verdict.Error != "" {
		return Verdict{}, fmt.Errorf("classify: service error: %s", verdict.Error)
	}
	if !verdict.Label.Valid() {
		return Verdict{}, fmt.Errorf("classify: unknown prediction %q", verdict.Label)
	}
	return verdict, nil
}
