// Package collector receives activity batches and stores the raw events.
//
// It is the receiving end of the agent's delivery path:
//
//	POST /events    {"events":[...]}  -> 204, 400, 405, 413 or 500
//	GET  /healthz
//	GET  /metrics   Prometheus exposition
//
// Batches can also arrive on a message bus (see Consume). Both paths go
// through Ingest, which drops batches whose X-Batch-Id was already stored
// so a batch that was requeued and resent is kept once.
//
// Stores: MemoryStore, SQLiteStore (modernc.org/sqlite, no cgo) and
// PostgresStore (gorm). The collector does not aggregate; rows are the
// events as received.
package collector
