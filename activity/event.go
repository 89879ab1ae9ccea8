package activity

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names an activity event. Any non-empty string is accepted;
// the constants below are the ones the tracker emits itself.
type Type string

const (
	TypeCopy       Type = "copy"
	TypePaste      Type = "paste"
	TypeCut        Type = "cut"
	TypeTabHidden  Type = "tab_hidden"
	TypeTabVisible Type = "tab_visible"
	TypeBlur       Type = "blur"
	TypeFocus      Type = "focus"
	TypeHeartbeat  Type = "heartbeat"
	TypeTaskSwitch Type = "task_switch"
	TypeExit       Type = "exit"
)

// BuiltinTypes lists the event types the tracker and bridge emit.
var BuiltinTypes = []Type{
	TypeCopy, TypePaste, TypeCut, TypeTabHidden, TypeTabVisible,
	TypeBlur, TypeFocus, TypeHeartbeat, TypeTaskSwitch, TypeExit,
}

// TimeFormat is the wire format of Event.Timestamp: ISO-8601, UTC,
// millisecond precision.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Payload is the type-specific body of an event.
type Payload map[string]any

// Event is one recorded activity. Events are not modified after they are
// queued.
type Event struct {
	Timestamp time.Time
	Type      Type
	TaskID    string // empty when no task is active
	SessionID string // empty when unknown
	Payload   Payload
	Page      string
	UserAgent string
}

// wireEvent is the JSON form of Event. Ids are null when unset.
type wireEvent struct {
	TS        string  `json:"ts"`
	Type      Type    `json:"type"`
	TaskID    *string `json:"task_id"`
	SessionID *string `json:"session_id"`
	Payload   Payload `json:"payload"`
	Page      string  `json:"page"`
	UA        string  `json:"ua,omitempty"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (e Event) wire() wireEvent {
	payload := e.Payload
	if payload == nil {
		payload = Payload{}
	}
	return wireEvent{
		TS:        e.Timestamp.UTC().Format(TimeFormat),
		Type:      e.Type,
		TaskID:    nullable(e.TaskID),
		SessionID: nullable(e.SessionID),
		Payload:   payload,
		Page:      e.Page,
		UA:        e.UserAgent,
	}
}

// trimmedMarker replaces the payload of every event in an oversize batch.
var trimmedMarker = Payload{"trimmed": true}

// trimmed returns the reduced wire form: ts, type, ids and page survive,
// the payload becomes the marker and the user agent is dropped.
func (e Event) trimmed() wireEvent {
	w := e.wire()
	w.Payload = trimmedMarker
	w.UA = ""
	return w
}

// MarshalJSON encodes the wire form.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON decodes the wire form. Both millisecond and RFC 3339
// timestamps are accepted.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	ts, err := time.Parse(time.RFC3339Nano, w.TS)
	if err != nil {
		return fmt.Errorf("invalid ts %q: %w", w.TS, err)
	}

	*e = Event{
		Timestamp: ts.UTC(),
		Type:      w.Type,
		Payload:   w.Payload,
		Page:      w.Page,
		UserAgent: w.UA,
	}
	if w.TaskID != nil {
		e.TaskID = *w.TaskID
	}
	if w.SessionID != nil {
		e.SessionID = *w.SessionID
	}
	return nil
}

// Trimmed reports whether the payload is the oversize-batch marker.
func (e Event) Trimmed() bool {
	v, ok := e.Payload["trimmed"].(bool)
	return ok && v && len(e.Payload) == 1
}

// Validate checks an event received from the wire.
func (e Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if len(e.Type) > 64 {
		return fmt.Errorf("event type too long")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event ts is required")
	}
	return nil
}

// Batch is the request body: {"events":[...]}.
type Batch struct {
	Events []Event `json:"events"`
}

// DecodeBatch parses and validates a request body.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return Batch{}, fmt.Errorf("decoding batch: %w", err)
	}
	for i, e := range b.Events {
		if err := e.Validate(); err != nil {
			return Batch{}, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return b, nil
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
