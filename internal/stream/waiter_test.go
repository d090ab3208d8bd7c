package stream

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitFor_ResolvesWithFirstMatch(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())
	require.NoError(t, c.Connect(context.Background(), Options{}))

	done := make(chan struct{})
	var payload any
	var err error
	go func() {
		payload, err = c.WaitFor(context.Background(), "Foo", 5*time.Second)
		close(done)
	}()

	// Give the waiter time to register before the event arrives.
	require.Eventually(t, func() bool { return c.registry.Len() == 1 },
		2*time.Second, 10*time.Millisecond)
	ft.conn(0).msgs <- []byte(wrapperFoo)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitFor did not settle")
	}
	require.NoError(t, err)
	contents, ok := payload.(json.RawMessage)
	require.True(t, ok)
	assert.JSONEq(t, `{"x":1}`, string(contents))

	assert.Equal(t, 0, c.registry.Len(), "the one-shot handler removed itself")
}

func TestWaitFor_SettlesExactlyOnce(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())
	require.NoError(t, c.Connect(context.Background(), Options{}))

	done := make(chan struct{})
	go func() {
		c.WaitFor(context.Background(), "Foo", 5*time.Second)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.registry.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	ft.conn(0).msgs <- []byte(wrapperFoo)
	second := strings.Replace(wrapperFoo, `"timestampMs": 10`, `"timestampMs": 11`, 1)
	ft.conn(0).msgs <- []byte(second)

	<-done
	// The second matching event arrived after settlement; the handler is
	// already gone and nothing fires.
	assert.Equal(t, 0, c.registry.Len())
}

func TestWaitFor_Timeout(t *testing.T) {
	c, _ := newTestClient(t, nil)
	defer c.Disconnect(context.Background())
	require.NoError(t, c.Connect(context.Background(), Options{}))

	start := time.Now()
	_, err := c.WaitFor(context.Background(), "Never", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrWaitTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, 0, c.registry.Len(), "the timed-out entry is cleaned up")
}

func TestWaitFor_ContextCancellation(t *testing.T) {
	c, _ := newTestClient(t, nil)
	defer c.Disconnect(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.WaitFor(ctx, "Never", 0)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWaitTimeout, "cancellation is distinguishable from timeout")
	assert.Equal(t, 0, c.registry.Len())
}

func TestWaitFor_WildcardGetsFullEnvelope(t *testing.T) {
	c, ft := newTestClient(t, nil)
	defer c.Disconnect(context.Background())
	require.NoError(t, c.Connect(context.Background(), Options{}))

	done := make(chan struct{})
	var payload any
	go func() {
		payload, _ = c.WaitFor(context.Background(), Wildcard, 5*time.Second)
		close(done)
	}()
	require.Eventually(t, func() bool { return c.registry.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	ft.conn(0).msgs <- []byte(`{"type":"trade_update","timestampMs":7,"price":"3"}`)
	<-done

	env, ok := payload.(*Envelope)
	require.True(t, ok, "flat records deliver the canonical envelope to wildcard waiters")
	assert.Equal(t, "trade_update", env.Type)
}
