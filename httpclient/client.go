package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	retryBackoff   = 200 * time.Millisecond
	traceHeader    = "X-Trace-ID"
)

// Client talks JSON to a platform service. Transport failures and 5xx answers are retried.
type Client struct {
	httpClient *http.Client
	logger     zerolog.Logger
	baseURL    string
	headers    map[string]string
	maxRetries int
}

// Config holds HTTP client configuration
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     zerolog.Logger
	Headers    map[string]string
	MaxRetries int
	// Transport overrides the default round tripper.
	Transport http.RoundTripper
}

// Request describes one call relative to the base URL
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    any
	Headers map[string]string
}

// Response is a fully read answer
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		logger:     logging.WithComponent(cfg.Logger, "http_client"),
		baseURL:    cfg.BaseURL,
		headers:    cfg.Headers,
		maxRetries: cfg.MaxRetries,
	}
}

// Get performs a GET with optional query parameters
func (c *Client) Get(ctx context.Context, path string, query url.Values) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
}

// GetJSON performs a GET and decodes a 2xx body into dest
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, dest any) error {
	resp, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	return resp.decode(dest)
}

// PostJSON posts body and decodes a 2xx answer into dest when dest is not nil
func (c *Client) PostJSON(ctx context.Context, path string, body any, headers map[string]string, dest any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: body, Headers: headers})
	if err != nil {
		return err
	}
	return resp.decode(dest)
}

// Do sends req, retrying up to MaxRetries times with a linear backoff. The request trace id
// from ctx is forwarded in X-Trace-ID.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInvalidRequest, "failed to marshal request body")
		}
		payload = b
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var (
		resp *Response
		err  error
	)
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if waitErr := sleep(ctx, time.Duration(attempt)*retryBackoff); waitErr != nil {
				return nil, apperrors.Wrap(waitErr, apperrors.ErrServiceUnavailable, "request cancelled")
			}
		}
		resp, err = c.send(ctx, req, target, payload, attempt)
		if err == nil && resp.StatusCode < http.StatusInternalServerError {
			return resp, nil
		}
	}
	return resp, err
}

func (c *Client) send(ctx context.Context, r Request, target string, payload []byte, attempt int) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrInvalidRequest, "failed to create request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if traceID := logging.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set(traceHeader, traceID)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}

	log := c.logger.With().Str("method", r.Method).Str("url", target).Int("attempt", attempt).Logger()
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("HTTP request failed")
		return nil, apperrors.Wrap(err, apperrors.ErrServiceUnavailable, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrServiceUnavailable, "failed to read response body")
	}
	log.Debug().Int("status", resp.StatusCode).Dur("duration", time.Since(start)).Msg("HTTP request completed")

	return &Response{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) decode(dest any) error {
	if !r.IsSuccess() {
		return apperrors.NewWithDebug(apperrors.ErrServiceUnavailable, fmt.Sprintf("HTTP error %d", r.StatusCode), string(r.Body))
	}
	if dest == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, dest); err != nil {
		return apperrors.Wrap(err, apperrors.ErrServiceUnavailable, "failed to unmarshal response")
	}
	return nil
}
