// Package broker wraps the execution venue's REST API and translates HTTP
// failures into typed outcomes.
package broker

import (
	"bytes"
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
	"mimic/internal/pkg/circuit"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Client talks to the trading and market-data endpoints of the venue.
type Client struct {
	baseURL    *url.URL
	dataURL    *url.URL
	apiKey     string
	apiSecret  string
	paper      bool
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
	log        *slog.Logger
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client for testing.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func NewClient(cfg config.BrokerConfig, opts ...Option) (*Client, error) {
	base, err := parseBase("broker.base_url", cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	data, err := parseBase("broker.data_url", cfg.DataURL)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimitPerMin > 0 {
		limit = rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	}
	c := &Client{
		baseURL:    base,
		dataURL:    data,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		apiSecret:  strings.TrimSpace(cfg.APISecret),
		paper:      cfg.Paper,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		breaker:    circuit.New("broker", cfg.BreakerThreshold, time.Duration(cfg.BreakerCooldownSeconds)*time.Second),
		log:        logger.With("broker"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func parseBase(key, raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return u, nil
}

// Paper reports whether orders go to the paper venue.
func (c *Client) Paper() bool { return c.paper }

// SubmitOrder places a market day order. A 422 asks for a different order
// shape (NeedsFallback); other 4xx are Rejected. Insufficient buying power and
// transient failures come back as errors.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error) {
	if err := req.validate(); err != nil {
		return SubmitResult{}, err
	}
	var order Order
	err := c.do(ctx, c.baseURL, http.MethodPost, "/v2/orders", req.payload(), &order)
	if err == nil {
		c.log.Info("order accepted", "symbol", order.Symbol, "order_id", order.ID, "status", order.Status)
		return SubmitResult{Kind: Accepted, Order: &order}, nil
	}
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrTransient):
		return SubmitResult{}, err
	case errors.As(err, &apiErr) && apiErr.Validation():
		return SubmitResult{Kind: NeedsFallback, Reason: apiErr.Message}, nil
	case errors.As(err, &apiErr) && apiErr.Status < 500:
		return SubmitResult{Kind: Rejected, Reason: apiErr.Message}, nil
	default:
		return SubmitResult{}, err
	}
}

func (c *Client) GetOrder(ctx context.Context, id string) (*Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("order id is required")
	}
	var order Order
	if err := c.do(ctx, c.baseURL, http.MethodGet, "/v2/orders/"+id, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// FindOrderByClientID returns nil without error when no order carries the id.
func (c *Client) FindOrderByClientID(ctx context.Context, clientOrderID string) (*Order, error) {
	var order Order
	path := "/v2/orders:by_client_order_id?client_order_id=" + url.QueryEscape(clientOrderID)
	err := c.do(ctx, c.baseURL, http.MethodGet, path, nil, &order)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) GetClock(ctx context.Context) (*Clock, error) {
	var clock Clock
	if err := c.do(ctx, c.baseURL, http.MethodGet, "/v2/clock", nil, &clock); err != nil {
		return nil, err
	}
	return &clock, nil
}

func (c *Client) GetCalendar(ctx context.Context, from, to calendar.Date) ([]CalendarDay, error) {
	var days []CalendarDay
	path := fmt.Sprintf("/v2/calendar?start=%s&end=%s", from, to)
	if err := c.do(ctx, c.baseURL, http.MethodGet, path, nil, &days); err != nil {
		return nil, err
	}
	return days, nil
}

func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.do(ctx, c.baseURL, http.MethodGet, "/v2/account", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.do(ctx, c.baseURL, http.MethodGet, "/v2/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// LatestTradePrice returns the last print for symbol from the data API.
func (c *Client) LatestTradePrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var lt latestTrade
	path := "/v2/stocks/" + symbol + "/trades/latest"
	if err := c.do(ctx, c.dataURL, http.MethodGet, path, nil, &lt); err != nil {
		return decimal.Zero, err
	}
	if !lt.Trade.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("latest trade for %s has no price", symbol)
	}
	return lt.Trade.Price, nil
}

func (c *Client) do(ctx context.Context, base *url.URL, method, path string, payload, out any) error {
	err := c.breaker.Do(func() error {
		return c.doRequest(ctx, base, method, path, payload, out)
	}, func(err error) bool { return errors.Is(err, ErrTransient) })
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return err
}

func (c *Client) doRequest(ctx context.Context, base *url.URL, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	endpoint, err := resolveEndpoint(base, path)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{op: method + " " + path, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 && json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func resolveEndpoint(base *url.URL, path string) (*url.URL, error) {
	if base == nil {
		return nil, fmt.Errorf("broker base url not set")
	}
	trimmed := strings.TrimSpace(path)
	query := ""
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		query = trimmed[idx+1:]
		trimmed = trimmed[:idx]
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + trimmed
	u.RawPath = ""
	u.RawQuery = query
	return &u, nil
}
