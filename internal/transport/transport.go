// Package transport defines the streaming transport capability consumed by
// the stream engine. Implementations are injected at client construction;
// the engine never probes its environment to pick one.
package transport

import "context"

// Conn is one live server-push connection. Messages carries each discrete
// text record as it arrives and is closed when the stream ends. Errs carries
// transport errors observed after the stream opened; consumers treat them as
// diagnostics only. Close tears the stream down and is safe to call more
// than once.
type Conn interface {
	Messages() <-chan []byte
	Errs() <-chan error
	Close() error
}

// Transport dials one streaming connection per call. Dial returns only once
// the transport reports the stream open; an error observed before that point
// fails the dial. Connections are never reused or redialed internally.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}
