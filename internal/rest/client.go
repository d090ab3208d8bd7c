// Package rest implements the snapshot query clients: stateless,
// parameterized GET wrappers over the gateway's REST endpoints.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
	Code       string `json:"code"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Client queries the gateway's snapshot endpoints.
type Client struct {
	baseURL     string
	apiKey      string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// NewClient creates a snapshot client for the gateway at baseURL.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Pools returns one page of liquidity pool snapshots.
func (c *Client) Pools(ctx context.Context, params PoolsParams) (*Page[Pool], error) {
	q := url.Values{}
	if params.CoinType != "" {
		q.Set("coinType", params.CoinType)
	}
	setPaging(q, params.Page, params.Limit)

	var page Page[Pool]
	if err := c.get(ctx, "pools", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Trades returns one page of executed trades.
func (c *Client) Trades(ctx context.Context, params TradesParams) (*Page[Trade], error) {
	q := url.Values{}
	if params.PoolID != "" {
		q.Set("poolId", params.PoolID)
	}
	if params.Pair != "" {
		q.Set("pair", params.Pair)
	}
	if params.SinceMs > 0 {
		q.Set("since", strconv.FormatInt(params.SinceMs, 10))
	}
	setPaging(q, params.Page, params.Limit)

	var page Page[Trade]
	if err := c.get(ctx, "trades", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// OrderBook returns a depth snapshot for one pair.
func (c *Client) OrderBook(ctx context.Context, pair string, depth int) (*OrderBook, error) {
	if pair == "" {
		return nil, fmt.Errorf("pair is required")
	}
	q := url.Values{}
	q.Set("pair", pair)
	if depth > 0 {
		q.Set("depth", strconv.Itoa(depth))
	}

	var book OrderBook
	if err := c.get(ctx, "orderbook", q, &book); err != nil {
		return nil, err
	}
	return &book, nil
}

// NFTs returns one page of NFT object snapshots.
func (c *Client) NFTs(ctx context.Context, params NFTParams) (*Page[NFT], error) {
	q := url.Values{}
	if params.Collection != "" {
		q.Set("collection", params.Collection)
	}
	if params.Owner != "" {
		q.Set("owner", params.Owner)
	}
	setPaging(q, params.Page, params.Limit)

	var page Page[NFT]
	if err := c.get(ctx, "nfts", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func setPaging(q url.Values, page, limit int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
}

// get performs a GET with retries and exponential backoff. Gateway errors
// other than 429 and 5xx are not retried: they are decoded into *APIError
// and returned as-is.
func (c *Client) get(ctx context.Context, resource string, q url.Values, result any) error {
	endpoint := c.baseURL + "/" + resource
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("unmarshal response: %w", err)
			}
			return nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			continue
		default:
			apiErr := &APIError{StatusCode: resp.StatusCode}
			if err := json.Unmarshal(body, apiErr); err != nil {
				apiErr.Message = string(body)
			}
			return apiErr
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
