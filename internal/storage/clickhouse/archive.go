package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"movefeed/internal/stream"
)

// EventArchive records dispatched envelopes into the events table. It is a
// plain wildcard consumer of a stream client: every event the client
// dispatches ends up as one row.
type EventArchive struct {
	conn *Conn
}

// NewEventArchive creates an archive writing through conn.
func NewEventArchive(conn *Conn) *EventArchive {
	return &EventArchive{conn: conn}
}

// EnvelopeFromPayload recovers the canonical envelope from a full-envelope
// delivery payload. Wildcard subscribers receive the canonical
// *stream.Envelope for flat records but the original wire document for
// wrapper-shaped events; the archive needs the canonical form either way.
func EnvelopeFromPayload(payload any) (*stream.Envelope, bool) {
	switch p := payload.(type) {
	case *stream.Envelope:
		return p, true
	case json.RawMessage:
		env, err := stream.Normalize(p)
		if err != nil {
			return nil, false
		}
		return env, true
	}
	return nil, false
}

// Insert writes one envelope.
func (a *EventArchive) Insert(ctx context.Context, env *stream.Envelope) error {
	return a.InsertBulk(ctx, []*stream.Envelope{env})
}

// InsertBulk writes envelopes as one batch.
func (a *EventArchive) InsertBulk(ctx context.Context, envs []*stream.Envelope) error {
	if len(envs) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			type, timestamp_ms, checkpoint_id, tx_hash, sender, event_index, contents, received_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	for _, env := range envs {
		var ts, checkpoint uint64
		if env.TimestampMs != nil {
			ts = uint64(*env.TimestampMs)
		}
		if env.CheckpointID != nil {
			checkpoint = uint64(*env.CheckpointID)
		}

		contents := env.Data.Contents
		if len(contents) == 0 {
			contents = env.Data.Record
		}

		err = batch.Append(
			env.Type, ts, checkpoint, env.TxHash,
			env.Data.Sender, uint32(env.Data.EventIndex), string(contents), now,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// CountByType returns the number of archived events for one type.
func (a *EventArchive) CountByType(ctx context.Context, eventType string) (uint64, error) {
	row := a.conn.QueryRow(ctx, `
		SELECT count() FROM events WHERE type = ?
	`, eventType)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return count, nil
}
