package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts   = 5
	DefaultBackoffFactor = 2.0
	DefaultTimeout       = 30 * time.Second

	maxBodyBytes = 1 << 20
)

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
}

// StatusError is a non-2xx response from the remote API.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request to %s failed: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and 403, which the API
// returns for throttled user agents. Other client errors are permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusForbidden
}

// Client is an HTTP GET client with exponential backoff and User-Agent
// rotation on 403.
type Client struct {
	httpClient    *http.Client
	maxAttempts   int
	backoffFactor float64
	logger        *slog.Logger
	sleep         func(ctx context.Context, d time.Duration) error

	mu      sync.Mutex
	uaIndex int
}

// NewClient creates a Client. Zero values select the defaults.
func NewClient(maxAttempts int, backoffFactor float64, timeout time.Duration, logger *slog.Logger) *Client {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoffFactor <= 0 {
		backoffFactor = DefaultBackoffFactor
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		maxAttempts:   maxAttempts,
		backoffFactor: backoffFactor,
		logger:        logger,
		sleep:         sleepCtx,
	}
}

// Get fetches url and returns the body of the first 2xx response.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		body, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) {
			if !se.IsRetryable() {
				return nil, err
			}
			if se.StatusCode == http.StatusForbidden {
				c.rotateUserAgent()
			}
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt == c.maxAttempts-1 {
			break
		}
		wait := c.backoff(attempt)
		if c.logger != nil {
			c.logger.Warn("request failed, retrying",
				"attempt", attempt+1,
				"max_attempts", c.maxAttempts,
				"wait", wait,
				"error", err,
			)
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://kick.com/")
	req.Header.Set("Origin", "https://kick.com")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	if len(body) > 256 {
		body = body[:256]
	}
	return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: string(body)}
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(c.backoffFactor, float64(attempt)) * float64(time.Second))
}

func (c *Client) userAgent() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return userAgents[c.uaIndex%len(userAgents)]
}

func (c *Client) rotateUserAgent() {
	c.mu.Lock()
	c.uaIndex++
	c.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
