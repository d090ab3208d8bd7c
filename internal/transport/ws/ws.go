// Package ws implements the streaming transport capability over a websocket,
// for gateways that expose the event feed on a ws:// endpoint instead of SSE.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"movefeed/internal/transport"
)

// messageBuffer absorbs bursts between the socket reader and the dispatch
// loop without dropping records.
const messageBuffer = 1024

// Transport dials websocket streams.
type Transport struct {
	// HandshakeTimeout bounds the websocket handshake. Zero uses a 10s
	// default.
	HandshakeTimeout time.Duration
	// Header is sent with the handshake request.
	Header http.Header
}

// Dial opens one websocket connection; a completed handshake is the open
// signal. The connection is never redialed: a read failure closes the
// message channel and reports the error on Errs.
func (t *Transport) Dial(ctx context.Context, url string) (transport.Conn, error) {
	handshake := t.HandshakeTimeout
	if handshake == 0 {
		handshake = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: handshake}

	wsConn, _, err := dialer.DialContext(ctx, toWSScheme(url), t.Header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c := &conn{
		ws:   wsConn,
		msgs: make(chan []byte, messageBuffer),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// toWSScheme rewrites http(s) URLs to their ws(s) equivalents so both client
// flavors can share one base URL configuration.
func toWSScheme(url string) string {
	switch {
	case strings.HasPrefix(url, "https://"):
		return "wss://" + strings.TrimPrefix(url, "https://")
	case strings.HasPrefix(url, "http://"):
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

type conn struct {
	ws     *websocket.Conn
	msgs   chan []byte
	errs   chan error
	done   chan struct{}
	closed atomic.Bool

	closeOnce sync.Once
}

func (c *conn) Messages() <-chan []byte { return c.msgs }
func (c *conn) Errs() <-chan error      { return c.errs }

// Close sends a close frame on a best-effort basis and tears the socket
// down. The read loop then closes the message and error channels.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.ws.Close()
	})
	return nil
}

// readLoop pushes each text message to the consumer until the socket fails
// or Close is called.
func (c *conn) readLoop() {
	defer func() {
		close(c.msgs)
		close(c.errs)
	}()

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				c.errs <- err
			}
			return
		}
		select {
		case c.msgs <- message:
		case <-c.done:
			return
		}
	}
}
