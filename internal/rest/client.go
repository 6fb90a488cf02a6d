// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rest is the JSON over HTTP transport shared by the remote service
// clients. It owns retries, rate limiting, optional SOCKS proxying and the
// mapping of HTTP failures onto sentinel errors.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

const (
	// DefaultRequestTimeout bounds a single HTTP round trip.
	DefaultRequestTimeout = 30 * time.Second

	// DefaultMaxRetries is the number of extra attempts for idempotent
	// requests that failed at the transport level.
	DefaultMaxRetries = 2

	// DefaultMaxResponseSize bounds how much of a response body is read.
	DefaultMaxResponseSize = 16 << 20

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512

	// retryBackoff is multiplied by the attempt number between retries.
	retryBackoff = 100 * time.Millisecond
)

// ErrMissingURL is returned when a client is configured without a base URL.
var ErrMissingURL = errors.New("missing base URL")

// Authenticator decorates outgoing requests, typically with signature
// headers. body is the exact request payload.
type Authenticator interface {
	Authenticate(req *http.Request, body []byte) error
}

// Config holds the configuration of a Client.
type Config struct {
	// URL is the base URL all paths are appended to.
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of retries for idempotent
	// requests that failed at the transport level.
	MaxRetries int

	// RateLimit is the sustained number of requests per second. Zero
	// disables limiting.
	RateLimit float64

	// Burst is the limiter burst size.
	Burst int

	// Proxy is an optional SOCKS5 proxy address (host:port).
	Proxy string

	// MaxResponseSize bounds the response body. Larger bodies fail with
	// ErrResponseTooLarge.
	MaxResponseSize int64

	// UserAgent is sent with every request when set.
	UserAgent string

	// Auth, when set, decorates every request.
	Auth Authenticator
}

// Request describes a single call.
type Request struct {
	// Method is the HTTP method.
	Method string

	// Path is appended to the base URL.
	Path string

	// Body is JSON encoded when non-nil, unless RawBody is set.
	Body any

	// RawBody is sent verbatim as text/plain.
	RawBody []byte

	// Idempotent allows transport level retries.
	Idempotent bool
}

// Client performs JSON requests against a single base URL.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrMissingURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.MaxResponseSize <= 0 {
		cfg.MaxResponseSize = DefaultMaxResponseSize
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		dialer, err := proxy.SOCKS5("tcp", cfg.Proxy, nil, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks proxy: %w", err)
		}

		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks proxy %s: no context dialer",
				cfg.Proxy)
		}

		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network,
			addr string) (net.Conn, error) {

			return ctxDialer.DialContext(ctx, network, addr)
		}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		limiter: limiter,
	}, nil
}

// URL returns the configured base URL.
func (c *Client) URL() string {
	return c.cfg.URL
}

// Do performs the request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.Path, err)
	}

	return nil
}

// DoRaw performs the request and returns the raw response body of a 2xx
// response.
func (c *Client) DoRaw(ctx context.Context, req Request) ([]byte, error) {
	payload, contentType, err := encodeBody(req)
	if err != nil {
		return nil, err
	}

	attempts := 1
	if req.Idempotent {
		attempts += c.cfg.MaxRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Debugf("Retrying %s %s (attempt %d/%d): %v",
				req.Method, req.Path, i+1, attempts, lastErr)

			select {
			case <-time.After(time.Duration(i) * retryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.roundTrip(ctx, req, payload, contentType)
		if err == nil {
			return body, nil
		}

		// Only transport failures are worth another attempt.
		var statusErr *StatusError
		if errors.As(err, &statusErr) ||
			errors.Is(err, ErrResponseTooLarge) ||
			errors.Is(err, context.Canceled) {

			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

// roundTrip performs one HTTP exchange.
func (c *Client) roundTrip(ctx context.Context, req Request, payload []byte,
	contentType string) ([]byte, error) {

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, req.Method, c.cfg.URL+req.Path, reader,
	)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	if c.cfg.Auth != nil {
		if err := c.cfg.Auth.Authenticate(httpReq, payload); err != nil {
			return nil, fmt.Errorf("authenticate request: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(
		io.LimitReader(resp.Body, c.cfg.MaxResponseSize+1),
	)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if int64(len(body)) > c.cfg.MaxResponseSize {
		return nil, fmt.Errorf("%w: %s %s exceeds %d bytes",
			ErrResponseTooLarge, req.Method, req.Path,
			c.cfg.MaxResponseSize)
	}

	log.Tracef("%s %s -> %d in %v", req.Method, req.Path,
		resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}

		return nil, &StatusError{Code: resp.StatusCode, Body: text}
	}

	return body, nil
}

// encodeBody serializes the request body.
func encodeBody(req Request) ([]byte, string, error) {
	switch {
	case req.RawBody != nil:
		return req.RawBody, "text/plain", nil

	case req.Body != nil:
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s %s: %w",
				req.Method, req.Path, err)
		}

		return payload, "application/json", nil

	default:
		return nil, "", nil
	}
}
