// Package sse implements the streaming transport capability over server-sent
// events using tmaxmax/go-sse.
package sse

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"movefeed/internal/transport"
)

// messageBuffer absorbs bursts between the HTTP reader and the dispatch
// loop without dropping records.
const messageBuffer = 1024

// Transport dials SSE streams. The zero value uses http.DefaultClient.
type Transport struct {
	// HTTPClient overrides the client used for the streaming request.
	HTTPClient *http.Client
	// HandshakeTimeout bounds how long Dial waits for the stream to open.
	// Zero means no bound beyond the dial context.
	HandshakeTimeout time.Duration
}

// Dial opens one SSE stream. It returns once the HTTP response validates as
// an event stream; a failure before that point is returned directly. The
// stream is never redialed: when it ends, the connection's message channel
// closes and any terminal error is reported on Errs.
func (t *Transport) Dial(ctx context.Context, url string) (transport.Conn, error) {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}

	c := &conn{
		msgs:   make(chan []byte, messageBuffer),
		errs:   make(chan error, 1),
		cancel: cancel,
	}

	opened := make(chan struct{})
	var openOnce sync.Once
	client := &sse.Client{
		HTTPClient: t.HTTPClient,
		ResponseValidator: func(r *http.Response) error {
			if err := sse.DefaultValidator(r); err != nil {
				return err
			}
			openOnce.Do(func() { close(opened) })
			return nil
		},
		// A dropped stream is surfaced to the caller, never redialed here.
		Backoff: sse.Backoff{MaxRetries: -1},
	}

	sseConn := client.NewConnection(req)
	sseConn.SubscribeToAll(func(e sse.Event) {
		select {
		case c.msgs <- []byte(e.Data):
		case <-streamCtx.Done():
		}
	})

	dialErr := make(chan error, 1)
	go func() {
		err := sseConn.Connect()
		select {
		case <-opened:
			// Stream ended after open. A deliberate Close cancels the
			// context; that is not an error worth reporting.
			if err != nil && streamCtx.Err() == nil {
				c.errs <- err
			}
			close(c.msgs)
			close(c.errs)
		default:
			dialErr <- err
		}
	}()

	var handshake <-chan time.Time
	if t.HandshakeTimeout > 0 {
		timer := time.NewTimer(t.HandshakeTimeout)
		defer timer.Stop()
		handshake = timer.C
	}

	select {
	case <-opened:
		return c, nil
	case err := <-dialErr:
		cancel()
		if err == nil {
			err = fmt.Errorf("stream closed before open")
		}
		return nil, fmt.Errorf("sse dial: %w", err)
	case <-handshake:
		cancel()
		return nil, fmt.Errorf("sse dial: handshake timeout after %s", t.HandshakeTimeout)
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

type conn struct {
	msgs   chan []byte
	errs   chan error
	cancel context.CancelFunc
}

func (c *conn) Messages() <-chan []byte { return c.msgs }
func (c *conn) Errs() <-chan error      { return c.errs }

// Close cancels the streaming request; the reader goroutine then closes the
// message and error channels.
func (c *conn) Close() error {
	c.cancel()
	return nil
}
