// Package bookstack is a rate-limited, retrying client for the BookStack REST API.
package bookstack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/starford/obsidian2bookstack/internal/apperr"
)

// Config configures a Client.
type Config struct {
	BaseURL     string
	TokenID     string
	TokenSecret string
	// RatePerSecond and Burst size the token bucket shared by every call.
	// Zero RatePerSecond disables limiting.
	RatePerSecond float64
	Burst         int
	// MaxAttempts bounds tries per call, including the first.
	MaxAttempts int
	// Timeout applies to each attempt.
	Timeout time.Duration
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PageSize       int
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to one BookStack instance. It is safe for concurrent use and
// is meant to live for a single sync run: the upload dedup cache is never
// invalidated.
type Client struct {
	cfg     Config
	base    string
	auth    string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger

	uploads  singleflight.Group
	mu       sync.Mutex
	uploaded map[string]Attachment // content digest → result
}

// New creates a client, filling defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 15 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		cfg:      cfg,
		base:     strings.TrimRight(cfg.BaseURL, "/"),
		auth:     "Token " + cfg.TokenID + ":" + cfg.TokenSecret,
		http:     cfg.HTTPClient,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   cfg.Logger,
		uploaded: make(map[string]Attachment),
	}
}

// request describes one API call. body is rebuilt for every attempt.
type request struct {
	method string
	path   string
	body   func() (io.Reader, string, error)
	out    any
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// retryAfterBackOff stretches the next delay to a server-provided hint.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	d := b.BackOff.NextBackOff()
	if d != backoff.Stop && b.hint > d {
		d = b.hint
	}
	b.hint = 0
	return d
}

// do executes a request with rate limiting, per-attempt timeouts and retries.
// Network errors, timeouts, 429 and 5xx are retried; other statuses fail
// immediately with *APIError.
func (c *Client) do(ctx context.Context, r request) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.cfg.InitialBackoff
	expo.MaxInterval = c.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	policy := &retryAfterBackOff{BackOff: backoff.WithMaxRetries(expo, uint64(c.cfg.MaxAttempts-1))}

	attempt := 0
	op := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := c.attempt(ctx, r)
		var apiErr *APIError
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		case errors.As(err, &apiErr):
			if !Retryable(apiErr.Status) {
				return backoff.Permanent(err)
			}
			policy.hint = apiErr.retryAfter
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		c.logger.Warn("bookstack: retrying request",
			slog.String("method", r.method),
			slog.String("path", r.path),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
	if err == nil {
		return nil
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("bookstack: %s %s: %w", r.method, r.path, ctx.Err())
	default:
		return fmt.Errorf("bookstack: %s %s: %w after %d attempts: %w",
			r.method, r.path, apperr.ErrRemoteUnavailable, attempt, err)
	}
}

func (c *Client) attempt(ctx context.Context, r request) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var body io.Reader
	contentType := ""
	if r.body != nil {
		var err error
		body, contentType, err = r.body()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("bookstack: encode %s %s: %w", r.method, r.path, err))
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, c.base+r.path, body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("bookstack: build request: %w", err))
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{
			Method:     r.method,
			Path:       r.path,
			Status:     resp.StatusCode,
			Body:       strings.TrimSpace(string(msg)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if r.out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return backoff.Permanent(fmt.Errorf("bookstack: decode %s %s: %w", r.method, r.path, err))
	}
	return nil
}
