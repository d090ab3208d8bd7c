package stream

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"movefeed/internal/observability"
	"movefeed/internal/storage/memory"
	"movefeed/internal/transport"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectedPolicy decides what Connect does when the client is already
// connected. Both behaviors are valid per-flavor policies; each flavor
// constructor documents its own.
type ConnectedPolicy int

const (
	// PolicyNoop returns success without touching the live connection.
	PolicyNoop ConnectedPolicy = iota
	// PolicyReplace tears the prior connection down first.
	PolicyReplace
)

// Fixed cursor cache keys per client flavor.
const (
	PackageCursorKey = "movefeed:events:cursor"
	MarketCursorKey  = "movefeed:market:cursor"
)

// Config configures a stream client. BaseURL, APIKey and Transport are
// required; everything else has a usable default.
type Config struct {
	// BaseURL is the gateway address, e.g. "https://feed.example.com/v1".
	BaseURL string
	// ResourcePath is the stream resource appended to BaseURL.
	ResourcePath string
	// APIKey is sent as the api-key query parameter.
	APIKey string
	// Transport is the injected streaming capability.
	Transport transport.Transport
	// Cache persists the resume cursor. Nil substitutes an in-process map
	// with no cross-restart durability.
	Cache Cache
	// CursorKey is the fixed cache key for this client's cursor.
	CursorKey string
	// PackageID, when set, lets OnNamed additionally register a glob over
	// the fully qualified type of the named event.
	PackageID string
	// OnConnected selects the already-connected Connect behavior.
	OnConnected ConnectedPolicy
	// Logger receives diagnostics. Nil means a stderr logger.
	Logger *log.Logger
	// Metrics, when set, records stream counters and latencies.
	Metrics *observability.Metrics
}

// Options parameterize one Connect call. Both fields are server-side hints
// and independent of client-side pattern matching.
type Options struct {
	// StartTime is an explicit resume point in milliseconds. It always wins
	// over, and suppresses, the cached cursor.
	StartTime *int64
	// TypeFilter asks the server to pre-filter by event type.
	TypeFilter string
}

// Client is the resumable, pattern-matched event dispatch engine. One
// transport connection exists per Connect call; messages are processed one
// at a time, in arrival order, on a single dispatch goroutine.
type Client struct {
	cfg      Config
	logger   *log.Logger
	metrics  *observability.Metrics
	registry *Registry
	cursor   *cursorStore

	mu       sync.Mutex
	state    State
	conn     transport.Conn
	loopDone chan struct{}
}

// New builds a client from cfg. Prefer the flavor constructors
// NewPackageClient and NewMarketClient, which fill in flavor defaults.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "events"
	}
	if cfg.CursorKey == "" {
		cfg.CursorKey = PackageCursorKey
	}
	if cfg.Cache == nil {
		cfg.Cache = memory.NewCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[stream] ", log.LstdFlags)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		registry: NewRegistry(),
		cursor:   newCursorStore(cfg.Cache, cfg.CursorKey, logger),
	}, nil
}

// NewPackageClient builds the general-purpose package-event client. Its
// already-connected policy is PolicyNoop: a Connect while connected is a
// no-op success.
func NewPackageClient(cfg Config) (*Client, error) {
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "events"
	}
	if cfg.CursorKey == "" {
		cfg.CursorKey = PackageCursorKey
	}
	cfg.OnConnected = PolicyNoop
	return New(cfg)
}

// NewMarketClient builds the market-data client. Its already-connected
// policy is PolicyReplace: a Connect while connected tears the prior
// connection down before opening the new one.
func NewMarketClient(cfg Config) (*Client, error) {
	if cfg.ResourcePath == "" {
		cfg.ResourcePath = "market"
	}
	if cfg.CursorKey == "" {
		cfg.CursorKey = MarketCursorKey
	}
	cfg.OnConnected = PolicyReplace
	return New(cfg)
}

// Connect establishes one streaming connection and starts dispatching. It
// returns once the transport reports the stream open; a transport error
// before that point fails the attempt. There is no automatic retry and no
// reconnect: a later Connect always builds a brand-new connection.
func (c *Client) Connect(ctx context.Context, opts Options) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		if c.cfg.OnConnected == PolicyNoop {
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()
		if err := c.Disconnect(ctx); err != nil {
			return err
		}
		c.mu.Lock()
	case StateConnecting:
		c.mu.Unlock()
		return fmt.Errorf("connect already in progress")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.cursor.load(ctx, opts.StartTime)

	conn, err := c.cfg.Transport.Dial(ctx, c.buildURL(opts))
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ConnectAttempts.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("open stream: %w", err)
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.loopDone = done
	c.state = StateConnected
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ConnectAttempts.WithLabelValues("ok").Inc()
	}
	go c.dispatchLoop(conn, done)
	return nil
}

// Disconnect closes the transport if present, transitions to disconnected
// and unconditionally triggers a cursor save. Calling it when not connected
// is a safe no-op. It must not be called from inside a handler.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn == nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		return nil
	}
	// Closed before being nulled out: no further dispatch starts.
	c.conn.Close()
	done := c.loopDone
	c.conn = nil
	c.loopDone = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	// In-flight handler invocations run to completion.
	if done != nil {
		<-done
	}
	c.cursor.save(ctx)
	return nil
}

// Connected reports whether the client holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// Cursor returns the current resume cursor, nil when no timestamped event
// has been seen and none was loaded.
func (c *Client) Cursor() *int64 {
	return c.cursor.value()
}

// On registers a handler for a pattern: an exact type, a bare short name, a
// glob containing '*', or the universal wildcard. The returned subscription
// is the token for Off.
func (c *Client) On(pattern string, fn Handler) *Subscription {
	sub := c.registry.On(pattern, fn)
	c.trackSubscriptions()
	return sub
}

// Off removes one registered occurrence, or the whole pattern entry when
// sub is nil.
func (c *Client) Off(pattern string, sub *Subscription) {
	c.registry.Off(pattern, sub)
	c.trackSubscriptions()
}

// OnAll registers a full-envelope handler for every event.
func (c *Client) OnAll(fn Handler) *Subscription {
	return c.On(Wildcard, fn)
}

// OnNamed registers fn for a bare event name. The single name entry covers
// both the exact and the trailing-short-name rules; when the client is
// configured with a package ID, a glob over the fully qualified type is
// registered as well.
func (c *Client) OnNamed(name string, fn Handler) []*Subscription {
	subs := []*Subscription{c.On(name, fn)}
	if c.cfg.PackageID != "" {
		subs = append(subs, c.On(c.cfg.PackageID+"::*::"+name, fn))
	}
	return subs
}

func (c *Client) trackSubscriptions() {
	if c.metrics != nil {
		c.metrics.Subscriptions.Set(float64(c.registry.Len()))
	}
}

// buildURL composes <base>/<resource>?api-key=K[&last-id=cursor][&type=f].
func (c *Client) buildURL(opts Options) string {
	q := url.Values{}
	q.Set("api-key", c.cfg.APIKey)
	if cur := c.cursor.value(); cur != nil {
		q.Set("last-id", strconv.FormatInt(*cur, 10))
	}
	if opts.TypeFilter != "" {
		q.Set("type", opts.TypeFilter)
	}
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	path := strings.TrimPrefix(c.cfg.ResourcePath, "/")
	return base + "/" + path + "?" + q.Encode()
}

// dispatchLoop drains one connection. Messages are handled strictly in
// arrival order; post-open transport errors are logged and change nothing.
func (c *Client) dispatchLoop(conn transport.Conn, done chan struct{}) {
	defer close(done)

	msgs, errs := conn.Messages(), conn.Errs()
	for msgs != nil || errs != nil {
		select {
		case m, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			c.handleMessage(m)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Best-effort diagnostics only: no teardown, no reconnect.
			c.logger.Printf("transport error: %v", err)
		}
	}
}

// handleMessage runs one record through normalize → cursor filter →
// registry → handlers.
func (c *Client) handleMessage(raw []byte) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.EventsReceived.Inc()
	}

	env, err := Normalize(raw)
	if err != nil {
		c.logger.Printf("dropping record: %v", err)
		if c.metrics != nil {
			c.metrics.EventsDropped.WithLabelValues("malformed").Inc()
		}
		return
	}

	if !c.cursor.admit(env.TimestampMs) {
		if c.metrics != nil {
			c.metrics.EventsDropped.WithLabelValues("already_seen").Inc()
		}
		return
	}

	if c.metrics != nil {
		c.metrics.EventsDispatched.Inc()
		if env.TimestampMs != nil {
			c.metrics.LastEventTimestamp.Set(float64(*env.TimestampMs))
			c.metrics.CursorTimestamp.Set(float64(*env.TimestampMs))
		}
	}

	for _, m := range c.registry.matchAll(env.Type) {
		c.invoke(env, m)
	}

	if c.metrics != nil {
		c.metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	}
}

// invoke runs one handler in isolation: a panic is recovered and logged
// with the offending event type, and remaining handlers still run.
func (c *Client) invoke(env *Envelope, m match) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("handler panic for %s: %v", env.Type, r)
			if c.metrics != nil {
				c.metrics.HandlerPanics.WithLabelValues(env.Type).Inc()
			}
		}
	}()
	if m.full {
		m.fn(env.FullPayload())
	} else {
		m.fn(env.ContentsPayload())
	}
}
