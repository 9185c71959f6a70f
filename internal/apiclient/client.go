// Package apiclient owns the single HTTP client used against the clinic
// backend. It attaches the anti-forgery header on mutating requests, the
// token Authorization header once a session exists, and maps responses into
// the portal error taxonomy.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sitwo-project/clinic-portal/pkg/circuitbreaker"
	apperrors "github.com/sitwo-project/clinic-portal/pkg/errors"
	"github.com/sitwo-project/clinic-portal/pkg/logger"
	"github.com/sitwo-project/clinic-portal/pkg/metrics"
)

const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"
	csrfSeedPath   = "/auth/csrf/"

	defaultTimeout = 15 * time.Second
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the owned, passed-in HTTP dependency shared by the session
// manager and the appointment engine. The token slot is single-writer
// (session manager) with multiple readers.
type Client struct {
	http    *http.Client
	base    *url.URL
	logger  *logger.Logger
	metrics *metrics.ClientMetrics
	breaker *circuitbreaker.CircuitBreaker

	mu    sync.RWMutex
	token string

	seedMu sync.Mutex
	seeded bool
}

func New(cfg Config, log *logger.Logger, m *metrics.ClientMetrics) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		http:    &http.Client{Jar: jar, Timeout: timeout},
		base:    base,
		logger:  log.WithComponent("apiclient"),
		metrics: m,
		breaker: circuitbreaker.New(circuitbreaker.Settings{Name: "clinic-api"}),
	}, nil
}

// SetToken installs the bearer token on all subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearToken removes the Authorization header from subsequent requests.
func (c *Client) ClearToken() {
	c.SetToken("")
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SeedCSRF fetches the anti-forgery cookie. Called lazily before the first
// mutating request of a browsing session. The latch only engages on
// success, so a failed seed is retried on the next mutating request.
func (c *Client) SeedCSRF(ctx context.Context) error {
	c.seedMu.Lock()
	defer c.seedMu.Unlock()

	if c.seeded {
		return nil
	}
	if err := c.do(ctx, http.MethodGet, csrfSeedPath, nil, nil, nil); err != nil {
		return err
	}
	c.seeded = true
	return nil
}

func (c *Client) csrfToken() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == csrfCookieName {
			return ck.Value
		}
	}
	return ""
}

// Get issues a GET request and decodes the response body into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out interface{}) error {
	p := path
	if len(query) > 0 {
		p = path + "?" + query.Encode()
	}
	return c.do(ctx, http.MethodGet, p, nil, out, &path)
}

// Post issues a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.mutate(ctx, http.MethodPost, path, body, out)
}

// Patch issues a PATCH request with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out interface{}) error {
	return c.mutate(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) mutate(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.SeedCSRF(ctx); err != nil {
		return err
	}
	return c.do(ctx, method, path, body, out, &path)
}

// metricsPath collapses numeric path segments into a placeholder so
// id-bearing paths do not explode label cardinality.
func metricsPath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.Atoi(part); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// do executes one request. pattern, when non-nil, is reduced to the logical
// path used as the metrics label.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, pattern *string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperrors.Internal(fmt.Errorf("failed to encode request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return apperrors.Internal(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet && method != http.MethodHead {
		if csrf := c.csrfToken(); csrf != "" {
			req.Header.Set(csrfHeaderName, csrf)
		}
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	if !c.breaker.Allow() {
		if c.metrics != nil {
			c.metrics.BreakerRejects.Inc()
		}
		return apperrors.Network(circuitbreaker.ErrOpen)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Record(err)
		if c.metrics != nil {
			c.metrics.NetworkFailures.Inc()
		}
		c.logger.Debug("request failed", "method", method, "path", path)
		return apperrors.Network(err)
	}
	defer resp.Body.Close()
	c.breaker.Record(nil)

	if c.metrics != nil && pattern != nil {
		label := metricsPath(*pattern)
		c.metrics.RequestsTotal.WithLabelValues(method, label, strconv.Itoa(resp.StatusCode)).Inc()
		c.metrics.RequestDuration.WithLabelValues(method, label).Observe(time.Since(start).Seconds())
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Network(err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return apperrors.Internal(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}
