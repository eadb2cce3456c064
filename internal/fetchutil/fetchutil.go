// Package fetchutil is the shared HTTP transport for all fetch
// strategies. It classifies failures into typed categories so the
// fallback chain can branch on error kind instead of matching message
// substrings.
package fetchutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout bounds a single feed or API fetch.
const DefaultTimeout = 20 * time.Second

// MaxBodyBytes caps response bodies to keep a hostile or broken source
// from exhausting memory.
const MaxBodyBytes = 10 << 20

// Per-host politeness. Parallel workers can land several sources on
// the same host (platform-hosted feeds especially), so requests to one
// host are capped and spaced regardless of worker count.
const (
	MaxPerHost     = 2
	PerHostSpacing = 500 * time.Millisecond
)

// hostLimiter caps concurrent requests per host and enforces a minimum
// spacing between successive requests to the same host.
type hostLimiter struct {
	maxPerHost int
	minDelay   time.Duration

	mu          sync.Mutex
	semaphores  map[string]chan struct{}
	lastRequest map[string]time.Time
}

func newHostLimiter(maxPerHost int, minDelay time.Duration) *hostLimiter {
	return &hostLimiter{
		maxPerHost:  maxPerHost,
		minDelay:    minDelay,
		semaphores:  make(map[string]chan struct{}),
		lastRequest: make(map[string]time.Time),
	}
}

// acquire takes a slot for the host, blocking for a free slot and for
// the spacing window.
func (hl *hostLimiter) acquire(ctx context.Context, host string) error {
	hl.mu.Lock()
	sem, ok := hl.semaphores[host]
	if !ok {
		sem = make(chan struct{}, hl.maxPerHost)
		hl.semaphores[host] = sem
	}
	hl.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	hl.mu.Lock()
	lastReq := hl.lastRequest[host]
	hl.mu.Unlock()

	if !lastReq.IsZero() {
		if elapsed := time.Since(lastReq); elapsed < hl.minDelay {
			select {
			case <-time.After(hl.minDelay - elapsed):
			case <-ctx.Done():
				<-sem
				return ctx.Err()
			}
		}
	}
	return nil
}

// release frees the slot and records the request time for spacing.
func (hl *hostLimiter) release(host string) {
	hl.mu.Lock()
	defer hl.mu.Unlock()
	hl.lastRequest[host] = time.Now()
	if sem, ok := hl.semaphores[host]; ok {
		<-sem
	}
}

func requestHost(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Host
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.Code, e.URL)
}

// IsBlocked reports whether err is a 403 or 429 response, the two
// statuses anti-bot protection and rate limiting surface as.
func IsBlocked(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusForbidden || se.Code == http.StatusTooManyRequests
	}
	return false
}

// IsRetryable reports whether err is worth retrying: 5xx, 429, or a
// transport-level failure (timeout, refused connection, DNS).
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return IsTransport(err)
}

// IsTransport reports whether err is a network-level failure rather
// than an HTTP response.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

// Client wraps http.Client with browser-like headers and bounded
// retries. A zero Retries means a single attempt.
type Client struct {
	HTTP    *http.Client
	Retries int
	// UserAgent overrides the default browser UA when set.
	UserAgent string

	limiter *hostLimiter
}

// New returns a client with the default timeout, retry count and
// per-host politeness limits.
func New() *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: DefaultTimeout},
		Retries: 2,
		limiter: newHostLimiter(MaxPerHost, PerHostSpacing),
	}
}

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

func (c *Client) setHeaders(req *http.Request) {
	ua := c.UserAgent
	if ua == "" {
		ua = browserUA
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
}

// Get fetches url and returns the body. 4xx (other than 429) fails
// fast; 5xx, 429 and transport errors are retried with linear backoff
// (attempt x 1s) up to c.Retries additional attempts.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	if c.limiter != nil {
		host := requestHost(url)
		if err := c.limiter.acquire(ctx, host); err != nil {
			return nil, err
		}
		defer c.limiter.release(host)
	}
	var lastErr error
	for attempt := 0; attempt <= c.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		body, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	c.setHeaders(req)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Drain a little so the connection can be reused.
		io.CopyN(io.Discard, resp.Body, 512)
		return nil, &StatusError{Code: resp.StatusCode, URL: url}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
