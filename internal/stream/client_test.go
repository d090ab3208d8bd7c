package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"movefeed/internal/transport"
)

// fakeConn is a scriptable transport connection for tests.
type fakeConn struct {
	msgs chan []byte
	errs chan error
	once sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan []byte, 64),
		errs: make(chan error, 4),
	}
}

func (c *fakeConn) Messages() <-chan []byte { return c.msgs }
func (c *fakeConn) Errs() <-chan error      { return c.errs }

func (c *fakeConn) Close() error {
	c.once.Do(func() {
		close(c.msgs)
		close(c.errs)
	})
	return nil
}

// fakeTransport hands out fakeConns and records dialed URLs.
type fakeTransport struct {
	mu      sync.Mutex
	dialErr error
	urls    []string
	conns   []*fakeConn
}

func (t *fakeTransport) Dial(_ context.Context, u string) (transport.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.urls = append(t.urls, u)
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) lastURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.urls[len(t.urls)-1]
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

func (t *fakeTransport) dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.urls)
}

func newTestClient(t *testing.T, mutate func(*Config)) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	cfg := Config{
		BaseURL:   "https://feed.example.com/v1",
		APIKey:    "secret",
		Transport: ft,
		Logger:    quietLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewPackageClient(cfg)
	require.NoError(t, err)
	return c, ft
}

// waitPayload receives one delivery or fails the test.
func waitPayload(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivery")
		return nil
	}
}

const wrapperFoo = `{
	"type": "package_event",
	"timestampMs": 10,
	"data": {"eventIndex": 0, "sender": "0xabc", "eventType": "0xabc::mod::Foo", "contents": {"x": 1}}
}`

func TestClient_ConnectComposesURL(t *testing.T) {
	c, ft := newTestClient(t, func(cfg *Config) {
		cache := newSpyCache()
		cache.data[PackageCursorKey] = "500"
		cfg.Cache = cache
	})
	defer c.Disconnect(context.Background())

	require.NoError(t, c.Connect(context.Background(), Options{TypeFilter: "0xabc::mod::Foo"}))
	assert.True(t, c.Connected())

	u, err := url.Parse(ft.lastURL())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/v1/events"))
	q := u.Query()
	assert.Equal(t, "secret", q.Get("api-key"))
	assert.Equal(t, "500", q.Get("last-id"), "cached cursor becomes the resume hint")
	assert.Equal(t, "0xabc::mod::Foo", q.Get("type"))
}

func TestClient_ConnectOverrideSuppressesCachedCursor(t *testing.T) {
	c, ft := newTestClient(t, func(cfg *Config) {
		cache := newSpyCache()
		cache.data[PackageCursorKey] = "500"
		cfg.Cache = cache
	})
	defer c.Disconnect(context.Background())

	require.NoError(t, c.Connect(context.Background(), Options{StartTime: i64(42)}))

	u, err := url.Parse(ft.lastURL())
	require.NoError(t, err)
	assert.Equal(t, "42", u.Query().Get("last-id"))
}

func TestClient_ConnectDialFailure(t *testing.T) {
	c, ft := newTestClient(t, nil)
	ft.dialErr = errors.New("refused")

	err := c.Connect(context.Background(), Options{})
	require.Error(t, err)
	assert.False(t, c.Connected())

	// The failed attempt is not retried automatically; a fresh Connect dials
	// a brand-new connection.
	ft.dialErr = nil
	require.NoError(t, c.Connect(context.Background(), Options{}))
	assert.Equal(t, 2, ft.dials())
	c.Disconnect(context.Background())
}

func TestClient_PackageFlavorConnectIsNoopWhenConnected(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	require.NoError(t, c.Connect(context.Background(), Options{}))
	require.NoError(t, c.Connect(context.Background(), Options{}))
	assert.Equal(t, 1, ft.dials())
}

func TestClient_MarketFlavorConnectReplacesConnection(t *testing.T) {
	ft := &fakeTransport{}
	c, err := NewMarketClient(Config{
		BaseURL:   "https://feed.example.com/v1",
		APIKey:    "secret",
		Transport: ft,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	defer c.Disconnect(context.Background())

	require.NoError(t, c.Connect(context.Background(), Options{}))
	require.NoError(t, c.Connect(context.Background(), Options{}))
	assert.Equal(t, 2, ft.dials())

	// The first connection was torn down by the second Connect.
	_, open := <-ft.conn(0).msgs
	assert.False(t, open)

	u, err := url.Parse(ft.lastURL())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u.Path, "/v1/market"))
}

func TestClient_DisconnectWhenNotConnectedIsNoop(t *testing.T) {
	c, _ := newTestClient(t, nil)
	require.NoError(t, c.Disconnect(context.Background()))
	require.NoError(t, c.Disconnect(context.Background()))
}

func TestClient_DispatchShortName(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 1)
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(wrapperFoo)

	contents, ok := waitPayload(t, got).(json.RawMessage)
	require.True(t, ok, "short-name subscribers receive contents only")
	assert.JSONEq(t, `{"x":1}`, string(contents))
}

func TestClient_DispatchGlob(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 1)
	c.On("0xabc::*::Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(wrapperFoo)

	contents, ok := waitPayload(t, got).(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(contents))
}

func TestClient_DispatchOnAllReceivesFullEnvelope(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 1)
	c.OnAll(func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(wrapperFoo)

	rich, ok := waitPayload(t, got).(json.RawMessage)
	require.True(t, ok, "wildcard subscribers see the original rich document")

	var doc struct {
		Data struct {
			EventType string `json:"eventType"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rich, &doc))
	assert.Equal(t, "0xabc::mod::Foo", doc.Data.EventType)
}

func TestClient_OnNamedRegistersQualifiedGlob(t *testing.T) {
	c, ft := newTestClient(t, func(cfg *Config) {
		cfg.PackageID = "0xabc"
	})
	defer c.Disconnect(context.Background())

	got := make(chan any, 4)
	subs := c.OnNamed("Foo", func(p any) { got <- p })
	require.Len(t, subs, 2)

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(wrapperFoo)

	// Short-name rule and qualified glob rule both fire for one event.
	waitPayload(t, got)
	waitPayload(t, got)

	for _, sub := range subs {
		c.Off(sub.Pattern(), sub)
	}
	assert.Equal(t, 0, c.registry.Len())
}

func TestClient_CursorFiltersAlreadySeen(t *testing.T) {
	cache := newSpyCache()
	cache.data[PackageCursorKey] = "100"
	c, ft := newTestClient(t, func(cfg *Config) { cfg.Cache = cache })

	got := make(chan any, 4)
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))

	stale := `{"timestampMs":100,"data":{"eventType":"0xabc::mod::Foo","contents":{"n":1}}}`
	fresh := `{"timestampMs":101,"data":{"eventType":"0xabc::mod::Foo","contents":{"n":2}}}`
	ft.conn(0).msgs <- []byte(stale)
	ft.conn(0).msgs <- []byte(fresh)

	payload := waitPayload(t, got).(json.RawMessage)
	assert.JSONEq(t, `{"n":2}`, string(payload), "the equal-timestamp event is dropped")

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, "101", cache.lastSet, "disconnect persists the max dispatched timestamp")
}

func TestClient_DisconnectWithoutTimestampsLeavesCursorAlone(t *testing.T) {
	cache := newSpyCache()
	c, ft := newTestClient(t, func(cfg *Config) { cfg.Cache = cache })

	got := make(chan any, 1)
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(`{"data":{"eventType":"0xabc::mod::Foo","contents":{}}}`)
	waitPayload(t, got)

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Zero(t, cache.sets)
}

func TestClient_MalformedRecordIsDropped(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 2)
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(`{not json`)
	ft.conn(0).msgs <- []byte(`{"timestampMs":5}`) // empty type
	ft.conn(0).msgs <- []byte(wrapperFoo)

	waitPayload(t, got)
	assert.Empty(t, got, "only the well-formed record is dispatched")
}

func TestClient_HandlerPanicIsIsolated(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 2)
	c.On("Foo", func(any) { panic("boom") })
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).msgs <- []byte(wrapperFoo)
	waitPayload(t, got)

	// Later events keep flowing too.
	next := strings.Replace(wrapperFoo, `"timestampMs": 10`, `"timestampMs": 11`, 1)
	ft.conn(0).msgs <- []byte(next)
	waitPayload(t, got)
}

func TestClient_PostOpenTransportErrorIsNonFatal(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	got := make(chan any, 1)
	c.On("Foo", func(p any) { got <- p })

	require.NoError(t, c.Connect(context.Background(), Options{}))
	ft.conn(0).errs <- errors.New("hiccup")
	ft.conn(0).msgs <- []byte(wrapperFoo)

	waitPayload(t, got)
	assert.True(t, c.Connected(), "post-open errors never alter state")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{APIKey: "k", Transport: &fakeTransport{}})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", Transport: &fakeTransport{}})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x", APIKey: "k"})
	assert.Error(t, err)
}
