package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWaitTimeout is returned by WaitFor when no matching event arrives in
// time. Distinguish it from other failures with errors.Is.
var ErrWaitTimeout = errors.New("wait timed out")

// WaitFor registers a one-shot handler for pattern and blocks until the
// first matching payload, the timeout, or context cancellation. Exactly one
// outcome settles the call; the losing path always removes the handler (or
// stops the timer) so nothing leaks and nothing fires twice. A timeout of
// zero waits indefinitely.
func (c *Client) WaitFor(ctx context.Context, pattern string, timeout time.Duration) (any, error) {
	got := make(chan any, 1)
	ready := make(chan struct{})

	var sub *Subscription
	var once sync.Once
	sub = c.On(pattern, func(payload any) {
		// The handler can fire before On returns the token; wait for it.
		<-ready
		once.Do(func() {
			c.Off(pattern, sub)
			got <- payload
		})
	})
	close(ready)

	var timerC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case payload := <-got:
		return payload, nil
	case <-timerC:
		c.Off(pattern, sub)
		return nil, fmt.Errorf("wait for %q: %w", pattern, ErrWaitTimeout)
	case <-ctx.Done():
		c.Off(pattern, sub)
		return nil, ctx.Err()
	}
}
