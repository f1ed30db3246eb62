// Package client provides the bearer-authenticated HTTP client for the MTM
// administration API, with error classification and request metrics.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for MTM client operations.
var (
	mtmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtm_requests_total",
		Help: "Total MTM API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	mtmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mtm_request_duration_seconds",
		Help:    "MTM API request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	mtmErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mtm_errors_total",
		Help: "Total MTM API errors by class",
	}, []string{"class"})
)

// maxErrorBody bounds how much of an error response is kept in APIError.Message.
const maxErrorBody = 512

// TokenSource yields the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the MTM API client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tokens     TokenSource
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://tenant.example.com".
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout per HTTP request.
	Timeout time.Duration

	// HTTPClient overrides the default client (Timeout is ignored when set).
	HTTPClient *http.Client
}

// DefaultConfig returns a default configuration for the given host.
func DefaultConfig(host string) Config {
	return Config{
		BaseURL:   BaseURLForHost(host),
		UserAgent: "mtm-prune/1.0",
		Timeout:   30 * time.Second,
	}
}

// BaseURLForHost builds the HTTPS API root for a bare host name.
// Values that already carry a scheme are returned unchanged.
func BaseURLForHost(host string) string {
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	return "https://" + strings.TrimRight(host, "/")
}

// New creates a new MTM client.
func New(cfg Config, tokens TokenSource) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    base,
		tokens:     tokens,
		config:     cfg,
		logger:     log.With().Str("component", "mtm-client").Logger(),
	}, nil
}

// URL resolves an escaped API path and query against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = query.Encode()
	return u.String()
}

// Do performs an authenticated request. endpoint is the low-cardinality
// route name used for metrics and logs. Any status >= 400 is returned as
// an *APIError with the response body already closed.
func (c *Client) Do(req *http.Request, endpoint string) (*http.Response, error) {
	ctx := req.Context()

	startTime := time.Now()
	defer func() {
		mtmRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get bearer token: %w", err)
	}
	if token == "" {
		return nil, ErrNoToken
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("method", req.Method).
		Msg("Executing MTM request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		mtmErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		mtmRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &APIError{
			Method:     req.Method,
			Endpoint:   endpoint,
			ErrorClass: ErrorClassNetwork,
			Message:    "transport failure",
			Err:        err,
		}
	}

	mtmRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		class := classifyStatus(resp.StatusCode)
		mtmErrorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("MTM request error")

		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = resp.Status
		}
		return nil, &APIError{
			Method:     req.Method,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    msg,
		}
	}

	return resp, nil
}

// GetJSON performs a GET and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, endpoint, path string, query url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(path, query), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		mtmErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{
			Method:     http.MethodGet,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response body",
			Err:        err,
		}
	}
	return nil
}

// Delete performs a DELETE; the response body is discarded.
func (c *Client) Delete(ctx context.Context, endpoint, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.URL(path, nil), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.Do(req, endpoint)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// IsContextError reports whether err stems from context cancellation or deadline.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
