package collector

import (
	"context"

	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/telemetry"
)

// Consume stores batches published on subject until ctx is done or the
// subscription ends. With a non-empty queue, collectors sharing the queue
// name split the stream between them. Failed batches are logged and
// skipped; a bus publish has no one to report back to.
func (c *Collector) Consume(ctx context.Context, b bus.MessageBus, subject, queue string) error {
	var (
		sub bus.Subscription
		err error
	)
	if queue != "" {
		sub, err = b.QueueSubscribe(subject, queue)
	} else {
		sub, err = b.Subscribe(subject)
	}
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	c.logger.Info("consuming", map[string]interface{}{"subject": subject, "queue": queue})

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			c.consumeOne(ctx, msg)
		}
	}
}

func (c *Collector) consumeOne(ctx context.Context, msg *bus.Message) {
	var batchID string
	if msg.Header != nil {
		ctx = telemetry.ExtractContext(ctx, telemetry.MapCarrier(msg.Header))
		batchID = msg.Header[bus.HeaderBatchID]
	}
	// Ingest logs its own failures.
	_, _ = c.Ingest(ctx, SourceBus, batchID, msg.Data)
}
