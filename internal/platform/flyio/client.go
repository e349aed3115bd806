// Package flyio implements provider.Provider on the Fly.io Machines REST API.
//
// Every method is one API request, retried only where a retry cannot
// duplicate a side effect: reads and deletes on 5xx or transport errors, and
// any request answered with 429 (rejected before processing).
package flyio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/appinit/internal/provider"
	"github.com/imamik/appinit/internal/util/retry"
)

// DefaultBaseURL is the public Machines API endpoint.
const DefaultBaseURL = "https://api.machines.dev"

const defaultExecTimeout = 60 * time.Second

// Client is a Fly.io Machines API client.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	retry       []retry.Option
	execTimeout time.Duration
	log         logr.Logger
}

var _ provider.Provider = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API host, such as a local proxy
// (FLY_API_HOSTNAME) or a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// WithRetry sets the transport retry policy.
func WithRetry(opts ...retry.Option) Option {
	return func(c *Client) {
		c.retry = opts
	}
}

// WithExecTimeout bounds commands run through Exec.
func WithExecTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.execTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a new Machines API client.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     DefaultBaseURL,
		token:       token,
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		execTimeout: defaultExecTimeout,
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// call sends one logical request and decodes the response into out. Errors
// are always *provider.Error.
func (c *Client) call(ctx context.Context, op, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return provider.NewError(op, fmt.Errorf("encode request: %w", err))
		}
	}
	idempotent := method == http.MethodGet || method == http.MethodDelete

	opts := append([]retry.Option{
		retry.WithOnRetry(func(attempt int, delay time.Duration, err error) {
			c.log.V(1).Info("retrying API request", "op", op, "attempt", attempt, "delay", delay, "error", err.Error())
		}),
	}, c.retry...)

	var last *provider.Error
	err := retry.Do(ctx, func(ctx context.Context) error {
		last = c.send(ctx, op, method, path, body, out)
		if last == nil {
			return nil
		}
		if retryable(last.StatusCode, idempotent) && ctx.Err() == nil {
			return last
		}
		return retry.Fatal(last)
	}, opts...)
	if err == nil {
		return nil
	}
	if last != nil && ctx.Err() == nil {
		return last
	}
	return provider.NewError(op, err)
}

func retryable(status int, idempotent bool) bool {
	switch {
	case status == http.StatusTooManyRequests:
		return true
	case status == 0, status >= 500:
		return idempotent
	default:
		return false
	}
}

func (c *Client) send(ctx context.Context, op, method, path string, body []byte, out any) *provider.Error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return provider.NewError(op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return provider.NewError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.NewError(op, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &provider.Error{
			Op:         op,
			Message:    apiMessage(resp.StatusCode, data),
			StatusCode: resp.StatusCode,
			NotFound:   resp.StatusCode == http.StatusNotFound,
		}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return provider.NewError(op, fmt.Errorf("parse response: %w (status %d)", err, resp.StatusCode))
	}
	return nil
}

// apiMessage extracts the error text of a failed response.
func apiMessage(status int, data []byte) string {
	var e apiError
	if err := json.Unmarshal(data, &e); err == nil && e.Error != "" {
		return e.Error
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(status)
}

