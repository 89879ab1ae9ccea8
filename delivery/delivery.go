// Package delivery moves encoded activity batches to the collector.
//
// Two capabilities are modelled separately. A Sender is the standard
// request path: it reports failure so the tracker can re-queue. A Beacon is
// the best-effort path used when a page is going away: it accepts or rejects
// a payload up front and never reports what happened after that.
package delivery

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/activitykit/bus"
)

// Payload is one encoded batch ready for the wire.
type Payload struct {
	// ID identifies the batch. Resends of a re-queued batch get a new ID
	// because the batch contents may have grown.
	ID string

	// Body is the encoded {"events":[...]} document.
	Body []byte

	// Events is the number of events in Body.
	Events int
}

// Sender delivers a batch and reports failure.
type Sender interface {
	Send(ctx context.Context, p Payload) error
}

// Beacon hands a batch off without waiting for the outcome.
// It returns false when the payload is rejected outright.
type Beacon interface {
	Beacon(p Payload) bool
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, p Payload) error

// Send calls f.
func (f SenderFunc) Send(ctx context.Context, p Payload) error { return f(ctx, p) }

// NewSender creates a sender for a protocol:
//
//	http, https  target is the endpoint URL
//	file         target is a JSONL path
//	bus          target is the subject; b must be non-nil
//	noop, ""     discards everything
func NewSender(protocol, target string, b bus.MessageBus) (Sender, error) {
	switch strings.ToLower(protocol) {
	case "http", "https":
		cfg := DefaultHTTPConfig()
		cfg.Endpoint = target
		return NewHTTPSender(cfg)
	case "file":
		return NewFileSender(target)
	case "bus":
		if b == nil {
			return nil, fmt.Errorf("bus sender requires a message bus")
		}
		return NewBusSender(b, target), nil
	case "noop", "":
		return NoopSender{}, nil
	default:
		return nil, fmt.Errorf("unknown delivery protocol: %s", protocol)
	}
}

// NoopSender discards all batches.
type NoopSender struct{}

// Send does nothing.
func (NoopSender) Send(context.Context, Payload) error { return nil }
