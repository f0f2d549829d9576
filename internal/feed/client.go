package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"mimic/internal/calendar"
	"mimic/internal/config"
	"mimic/internal/logger"
	"mimic/internal/pkg/retry"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrFetch marks a failed collection; a run that sees it must not trade.
var ErrFetch = errors.New("feed fetch failed")

// envelope keys tried, in order, when the payload root is an object.
var envelopeKeys = []string{"data", "results", "items", "transactions"}

// Batch holds the raw records the feed returned for one calendar date.
type Batch struct {
	Date    calendar.Date
	Records []json.RawMessage
}

// Source is what the orchestrator needs from the feed.
type Source interface {
	FetchDates(ctx context.Context, dates []calendar.Date) ([]Batch, error)
}

// HTTPStatusError is a non-2xx answer from the feed.
type HTTPStatusError struct {
	Status int
	Body   string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("feed returned %d", e.Status)
	}
	return fmt.Sprintf("feed returned %d: %s", e.Status, e.Body)
}

// Client talks to the per-date bulk endpoint.
type Client struct {
	baseURL     *url.URL
	path        string
	token       string
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       retry.Config
	concurrency int
	log         *slog.Logger
}

var _ Source = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

func NewClient(cfg config.FeedConfig, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("feed.base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse feed.base_url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	}
	concurrency := cfg.FetchConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	c := &Client{
		baseURL:    parsed,
		path:       cfg.Path,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		retry: retry.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: time.Duration(cfg.InitialBackoffMs) * time.Millisecond,
			MaxBackoff:     time.Duration(cfg.MaxBackoffMs) * time.Millisecond,
			BackoffFactor:  2,
			Jitter:         true,
		},
		concurrency: concurrency,
		log:         logger.With("feed"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// FetchDate returns the raw records disclosed on date.
func (c *Client) FetchDate(ctx context.Context, date calendar.Date) ([]json.RawMessage, error) {
	onRetry := func(attempt int, err error, wait time.Duration) {
		c.log.Warn("feed fetch retry", "date", date.String(), "attempt", attempt, "wait", wait, "error", err)
	}
	return retry.Do(ctx, c.retry, isRetryable, onRetry, func() ([]json.RawMessage, error) {
		return c.fetchOnce(ctx, date)
	})
}

// FetchDates fetches every date concurrently. Any failed date fails the
// whole collection with ErrFetch; batches come back in input order.
func (c *Client) FetchDates(ctx context.Context, dates []calendar.Date) ([]Batch, error) {
	out := make([]Batch, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, d := range dates {
		i, d := i, d
		g.Go(func() error {
			records, err := c.FetchDate(gctx, d)
			if err != nil {
				return fmt.Errorf("%w: date %s: %w", ErrFetch, d, err)
			}
			out[i] = Batch{Date: d, Records: records}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	total := 0
	for _, b := range out {
		total += len(b.Records)
	}
	c.log.Info("feed collected", "dates", len(dates), "records", total)
	return out, nil
}

func (c *Client) fetchOnce(ctx context.Context, date calendar.Date) ([]json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	endpoint, err := c.resolveEndpoint(date)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &transportError{op: "call feed", err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{op: "read feed response", err: err}
	}
	return extractRecords(body)
}

func (c *Client) resolveEndpoint(date calendar.Date) (string, error) {
	if c.baseURL == nil {
		return "", fmt.Errorf("feed base url not set")
	}
	path := strings.TrimSpace(c.path)
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	q := u.Query()
	q.Set("date", date.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// extractRecords accepts a bare array or an object wrapping one.
func extractRecords(body []byte) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("feed response is not valid json")
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.Null {
		return nil, nil
	}
	if !root.IsArray() {
		if !root.IsObject() {
			return nil, fmt.Errorf("feed response root must be an array or object")
		}
		var found bool
		for _, key := range envelopeKeys {
			v := root.Get(key)
			if !v.Exists() {
				continue
			}
			if v.Type == gjson.Null {
				return nil, nil
			}
			if v.IsArray() {
				root, found = v, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("feed response has no record array (tried %s)", strings.Join(envelopeKeys, ", "))
		}
	}
	var out []json.RawMessage
	root.ForEach(func(_, v gjson.Result) bool {
		out = append(out, json.RawMessage(v.Raw))
		return true
	})
	return out, nil
}

func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == http.StatusTooManyRequests
	}
	var netErr *transportError
	return errors.As(err, &netErr)
}

type transportError struct {
	op  string
	err error
}

func (e *transportError) Error() string { return e.op + ": " + e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }
