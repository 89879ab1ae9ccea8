package delivery

import (
	"context"

	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/errors"
	"github.com/vinayprograms/activitykit/telemetry"
)

// BusSender publishes batches on a message bus subject. Publishing is
// already fire-and-forget, so the same type serves as a Beacon.
type BusSender struct {
	bus     bus.MessageBus
	subject string
}

var (
	_ Sender = (*BusSender)(nil)
	_ Beacon = (*BusSender)(nil)
)

// NewBusSender creates a bus sender. An empty subject uses bus.DefaultSubject.
func NewBusSender(b bus.MessageBus, subject string) *BusSender {
	if subject == "" {
		subject = bus.DefaultSubject
	}
	return &BusSender{bus: b, subject: subject}
}

// Send publishes p with its batch id and trace context in headers.
func (s *BusSender) Send(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "publish")
	}
	if err := s.bus.PublishMsg(s.message(ctx, p)); err != nil {
		return errors.Wrap(err, "publish "+s.subject)
	}
	return nil
}

// Beacon publishes p and reports whether the bus accepted it.
func (s *BusSender) Beacon(p Payload) bool {
	return s.bus.PublishMsg(s.message(context.Background(), p)) == nil
}

func (s *BusSender) message(ctx context.Context, p Payload) *bus.Message {
	header := telemetry.MapCarrier{}
	telemetry.InjectContext(ctx, header)
	if p.ID != "" {
		header[bus.HeaderBatchID] = p.ID
	}
	return &bus.Message{
		Subject: s.subject,
		Data:    p.Body,
		Header:  header,
	}
}
