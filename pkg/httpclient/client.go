// Package httpclient provides a resilient HTTP client for media origins that
// authorize requests by Referer.
//
// The client wraps the standard http.Client and adds:
//   - Automatic retries with exponential backoff for transient failures
//   - Transparent decompression (gzip, deflate, brotli)
//   - Per-request Referer and header injection
//   - Response size limits and structured logging
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

// Default configuration values.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = 500 * time.Millisecond
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultUserAgent         = "Mozilla/5.0 (X11; Linux x86_64) vodarr/1.0"
)

// HTTP header constants.
const (
	HeaderAccept          = "Accept"
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderReferer         = "Referer"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall per-request timeout.
	Timeout time.Duration

	// RetryAttempts is the number of retry attempts for failed requests.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay is the ceiling for the backoff delay.
	RetryMaxDelay time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// RetryableStatusCodes overrides which HTTP status codes trigger a retry.
	// If nil, 429, 503 and all 5xx are retried.
	RetryableStatusCodes *StatusCodeSet

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// MaxResponseSize limits response bodies read through ReadBody.
	// Applied after decompression. Zero disables the limit.
	MaxResponseSize int64

	// EnableDecompression enables transparent response decompression.
	EnableDecompression bool

	// Logger is the structured logger for request logging.
	Logger *slog.Logger

	// BaseClient is the underlying http.Client. If nil, one is created
	// with sane transport defaults for segment fetching.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		UserAgent:           DefaultUserAgent,
		EnableDecompression: true,
	}
}

// Client is a resilient HTTP client.
type Client struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// New creates a Client from the given config, filling in defaults.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if config.BackoffMultiplier <= 1 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := config.BaseClient
	if base == nil {
		base = &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: config.Timeout,
				IdleConnTimeout:       90 * time.Second,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
			},
			Timeout: config.Timeout,
		}
	}

	return &Client{
		config: config,
		client: base,
		logger: logger.With(slog.String("component", "httpclient")),
	}
}

// RequestOption mutates an outgoing request before it is sent.
type RequestOption func(*http.Request)

// WithReferer sets the Referer header required by embed origins.
func WithReferer(referer string) RequestOption {
	return func(req *http.Request) {
		if referer != "" {
			req.Header.Set(HeaderReferer, referer)
		}
	}
}

// WithHeader sets an arbitrary header.
func WithHeader(key, value string) RequestOption {
	return func(req *http.Request) {
		req.Header.Set(key, value)
	}
}

// Get issues a GET request with retries. The caller owns the response body.
func (c *Client) Get(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, url, opts...)
}

// Head issues a HEAD request with retries.
func (c *Client) Head(ctx context.Context, url string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodHead, url, opts...)
}

// GetBody issues a GET request and reads the full (decompressed) body.
func (c *Client) GetBody(ctx context.Context, url string, opts ...RequestOption) ([]byte, error) {
	resp, err := c.Get(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	return c.ReadBody(resp)
}

// do runs the retry loop around a single request shape.
func (c *Client) do(ctx context.Context, method, url string, opts ...RequestOption) (*http.Response, error) {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
		req.Header.Set(HeaderAccept, "*/*")
		if c.config.EnableDecompression {
			req.Header.Set(HeaderAcceptEncoding, "gzip, deflate, br")
		}
		for _, opt := range opts {
			opt(req)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !IsRetryableError(err) {
				return nil, err
			}
			lastErr = err
			c.logger.Debug("retrying after transport error",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}

		if c.isRetryableStatus(resp.StatusCode) {
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			c.logger.Debug("retrying after status",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1))
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrMaxRetries, c.config.RetryAttempts+1, lastErr)
}

// isRetryableStatus reports whether the status code warrants a retry.
func (c *Client) isRetryableStatus(code int) bool {
	if c.config.RetryableStatusCodes != nil {
		return c.config.RetryableStatusCodes.Contains(code)
	}
	return code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable ||
		(code >= 500 && code <= 599)
}

// IsRetryableError reports whether a transport error is transient.
// Timeouts and connection resets are retried; everything else surfaces.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF")
}

// ReadBody reads the full response body, transparently decompressing it
// and enforcing the configured size limit.
func (c *Client) ReadBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	if c.config.EnableDecompression {
		switch strings.ToLower(resp.Header.Get(HeaderContentEncoding)) {
		case EncodingGzip:
			gz, err := gzip.NewReader(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("creating gzip reader: %w", err)
			}
			defer gz.Close()
			reader = gz
		case EncodingDeflate:
			fl := flate.NewReader(resp.Body)
			defer fl.Close()
			reader = fl
		case EncodingBrotli:
			reader = brotli.NewReader(resp.Body)
		}
	}

	if c.config.MaxResponseSize > 0 {
		data, err := io.ReadAll(io.LimitReader(reader, c.config.MaxResponseSize+1))
		if err != nil {
			return nil, fmt.Errorf("reading response body: %w", err)
		}
		if int64(len(data)) > c.config.MaxResponseSize {
			return nil, ErrResponseTooLarge
		}
		return data, nil
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return data, nil
}

// HTTPClient exposes the underlying http.Client for collaborators that
// need raw streaming access.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}
