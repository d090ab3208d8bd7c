// Package stream implements the resumable, pattern-matched event dispatch
// engine shared by the package-event and market-data clients. It consumes
// discrete JSON records from an injected streaming transport, normalizes the
// two wire envelope shapes into one canonical form, filters already-seen
// events by a persisted timestamp cursor, and fans each surviving event out
// to pattern-matched subscribers.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for payloads that never reach the registry.
var (
	ErrEmptyType  = errors.New("event type is empty")
	ErrBadPayload = errors.New("malformed event payload")
)

// DataKind discriminates the two wire payload shapes. It is resolved exactly
// once, in Normalize; nothing downstream re-probes the shape.
type DataKind int

const (
	// KindPackage is the wrapper shape carrying a nested Move event:
	// {eventIndex, sender, eventType, contents}.
	KindPackage DataKind = iota
	// KindMarket is an already-flat market-data record passed through as-is.
	KindMarket
)

// EventData is the capability-specific payload of an envelope.
type EventData struct {
	Kind DataKind

	// Package shape fields.
	EventIndex int             `json:"eventIndex,omitempty"`
	Sender     string          `json:"sender,omitempty"`
	EventType  string          `json:"eventType,omitempty"`
	Contents   json.RawMessage `json:"contents,omitempty"`

	// Market shape: the flat record exactly as it arrived.
	Record json.RawMessage `json:"-"`
}

// Envelope is the canonical unit dispatched internally. Type is never empty:
// Normalize rejects payloads that would produce one.
type Envelope struct {
	Type         string
	TimestampMs  *int64
	CheckpointID *int64
	TxHash       string
	Data         EventData

	// rich is the original full wire document when the wrapper shape was
	// used; nil when the canonical form already is the wire form.
	rich json.RawMessage
}

// Rich returns the original wire document for wrapper-shaped events, or nil.
func (e *Envelope) Rich() json.RawMessage { return e.rich }

// ContentsPayload is the contents-only delivery view: the nested business
// payload when present, otherwise the data record itself.
func (e *Envelope) ContentsPayload() any {
	if e.Data.Kind == KindPackage {
		if len(e.Data.Contents) > 0 {
			return e.Data.Contents
		}
		return e.Data
	}
	return e.Data.Record
}

// FullPayload is the full-envelope delivery view: the rich wire document when
// one exists, otherwise the canonical envelope.
func (e *Envelope) FullPayload() any {
	if len(e.rich) > 0 {
		return e.rich
	}
	return e
}

// wireMessage covers the fields common to both wire shapes.
type wireMessage struct {
	Type         string          `json:"type"`
	TimestampMs  *int64          `json:"timestampMs"`
	CheckpointID *int64          `json:"checkpointId"`
	TxHash       string          `json:"txHash"`
	Data         json.RawMessage `json:"data"`
}

// wirePackageData is the nested data object of the wrapper shape.
type wirePackageData struct {
	EventIndex int             `json:"eventIndex"`
	Sender     string          `json:"sender"`
	EventType  string          `json:"eventType"`
	Contents   json.RawMessage `json:"contents"`
}

// Normalize reconciles one raw wire message into the canonical envelope.
//
// Shape (a), a wrapper with a nested data.eventType, lifts that nested type
// into the envelope and keeps the original document as the rich payload.
// Shape (b), an already-flat record, passes through unchanged. Malformed
// JSON and payloads yielding an empty type return an error; callers log and
// drop the record.
func Normalize(raw []byte) (*Envelope, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	env := &Envelope{
		Type:         msg.Type,
		TimestampMs:  msg.TimestampMs,
		CheckpointID: msg.CheckpointID,
		TxHash:       msg.TxHash,
	}

	if len(msg.Data) > 0 {
		var pd wirePackageData
		if err := json.Unmarshal(msg.Data, &pd); err == nil && pd.EventType != "" {
			env.Type = pd.EventType
			env.Data = EventData{
				Kind:       KindPackage,
				EventIndex: pd.EventIndex,
				Sender:     pd.Sender,
				EventType:  pd.EventType,
				Contents:   pd.Contents,
			}
			env.rich = json.RawMessage(raw)
			return env, nil
		}
	}

	// Flat shape: the whole document is the record.
	env.Data = EventData{Kind: KindMarket, Record: json.RawMessage(raw)}
	if env.Type == "" {
		return nil, ErrEmptyType
	}
	return env, nil
}

// ShortName returns the trailing segment of a qualified event type, the
// substring after the last "::" separator. For unqualified types it is the
// type itself.
func ShortName(eventType string) string {
	if i := strings.LastIndex(eventType, "::"); i >= 0 {
		return eventType[i+len("::"):]
	}
	return eventType
}
