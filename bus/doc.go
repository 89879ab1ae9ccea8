// Package bus carries encoded activity batches between agents and
// collectors.
//
// # Overview
//
// Agents publish each batch on a subject (default "activity.batches") with
// the batch id in a header. Collectors join a queue group on that subject,
// so each batch is stored by exactly one collector replica.
//
// # Available Implementations
//
//   - NATSBus: NATS core pub/sub
//   - MemoryBus: in-process fan-out for tests and single-binary setups
//
// # Patterns
//
// Publish a batch:
//
//	b.PublishMsg(&bus.Message{
//	    Subject: "activity.batches",
//	    Data:    body,
//	    Header:  map[string]string{bus.HeaderBatchID: id},
//	})
//
// Ingest, load balanced across collector replicas:
//
//	sub, _ := b.QueueSubscribe("activity.batches", "collectors")
//	for msg := range sub.Messages() {
//	    store(msg.Header[bus.HeaderBatchID], msg.Data)
//	}
package bus
