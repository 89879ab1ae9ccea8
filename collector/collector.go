package collector

import (
	"context"
	"time"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/clock"
	"github.com/vinayprograms/activitykit/errors"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/telemetry"
)

// Ingest sources.
const (
	SourceHTTP = "http"
	SourceBus  = "bus"
)

// Config holds collector limits.
type Config struct {
	// MaxBodyBytes caps a request body on POST /events.
	// Default: 1 MiB
	MaxBodyBytes int64

	// DedupTTL is how long a batch id is remembered in memory.
	// Default: 10 minutes
	DedupTTL time.Duration

	// DedupSize caps the number of remembered batch ids.
	// Default: 10000
	DedupSize int
}

// DefaultConfig returns the standard limits.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes: 1 << 20,
		DedupTTL:     10 * time.Minute,
		DedupSize:    10000,
	}
}

// Options holds the collector's collaborators.
type Options struct {
	// Store is required.
	Store Store

	// Metrics defaults to NewMetrics(nil).
	Metrics *Metrics

	// Shared, if set, is consulted after the in-memory set so collectors
	// sharing a bus queue group skip each other's redeliveries.
	Shared SharedDedup

	Clock  clock.Clock
	Logger *logging.Logger
	Tracer *telemetry.Tracer
}

// SharedDedup is a batch id set visible to every collector replica.
type SharedDedup interface {
	Seen(ctx context.Context, batchID string) (bool, error)
	Mark(ctx context.Context, batchID string) error
}

// Result describes one ingested batch.
type Result struct {
	BatchID   string
	Events    int
	Trimmed   int
	Duplicate bool
}

// Collector validates and stores batches.
type Collector struct {
	config  Config
	store   Store
	metrics *Metrics
	dedup   *Dedup
	shared  SharedDedup
	clock   clock.Clock
	logger  *logging.Logger
	tracer  *telemetry.Tracer
}

// New creates a collector.
func New(cfg Config, opts Options) (*Collector, error) {
	if opts.Store == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "collector requires a store")
	}
	d := DefaultConfig()
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = d.MaxBodyBytes
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = d.DedupTTL
	}
	if cfg.DedupSize <= 0 {
		cfg.DedupSize = d.DedupSize
	}

	c := &Collector{
		config:  cfg,
		store:   opts.Store,
		metrics: opts.Metrics,
		shared:  opts.Shared,
		clock:   opts.Clock,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	if c.clock == nil {
		c.clock = clock.Real{}
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	c.logger = c.logger.WithComponent("collector")
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	c.dedup = NewDedup(cfg.DedupSize, cfg.DedupTTL, c.clock)
	return c, nil
}

// Metrics returns the collector's metrics.
func (c *Collector) Metrics() *Metrics { return c.metrics }

// Store returns the backing store.
func (c *Collector) Store() Store { return c.store }

// Ingest decodes body and stores its events. A batch whose id was stored
// before is reported as a duplicate and not stored again. Malformed bodies
// fail with INVALID_INPUT and store failures with INTERNAL.
func (c *Collector) Ingest(ctx context.Context, source, batchID string, body []byte) (Result, error) {
	ctx, span := c.tracer.StartIngestSpan(ctx, source)
	res, err := c.ingest(ctx, source, batchID, body)
	c.tracer.EndIngestSpan(span, telemetry.IngestSpanOptions{
		BatchID:   batchID,
		Source:    source,
		Events:    res.Events,
		Duplicate: res.Duplicate,
	}, err)
	return res, err
}

func (c *Collector) ingest(ctx context.Context, source, batchID string, body []byte) (Result, error) {
	start := c.clock.Now()
	res := Result{BatchID: batchID}

	if batchID != "" && c.seen(ctx, batchID) {
		res.Duplicate = true
		c.metrics.duplicate(source)
		return res, nil
	}

	batch, err := activity.DecodeBatch(body)
	if err != nil {
		c.metrics.reject("malformed")
		c.logger.Warn("batch_rejected", map[string]interface{}{
			"batch":  batchID,
			"source": source,
			"error":  err.Error(),
		})
		return res, errors.WrapWithCode(err, errors.ErrCodeInvalidInput, "malformed batch")
	}
	res.Events = len(batch.Events)
	if res.Events == 0 {
		return res, nil
	}

	stored, err := c.store.SaveBatch(ctx, batchID, batch.Events, start.UTC())
	if err != nil {
		c.metrics.reject("store")
		c.logger.Error("store_failed", map[string]interface{}{
			"batch":  batchID,
			"events": res.Events,
			"error":  err.Error(),
		})
		return res, errors.WrapWithCode(err, errors.ErrCodeInternal, "storing batch")
	}
	if batchID != "" {
		c.mark(ctx, batchID)
	}
	if !stored {
		res.Duplicate = true
		c.metrics.duplicate(source)
		return res, nil
	}

	types := make(map[string]int)
	for _, e := range batch.Events {
		types[metricType(e.Type)]++
		if e.Trimmed() {
			res.Trimmed++
		}
	}
	took := c.clock.Now().Sub(start)
	c.metrics.stored(source, types, res.Trimmed, took)
	c.logger.BatchStored(batchID, res.Events, took)
	return res, nil
}

func (c *Collector) seen(ctx context.Context, batchID string) bool {
	if c.dedup.Seen(batchID) {
		return true
	}
	if c.shared == nil {
		return false
	}
	seen, err := c.shared.Seen(ctx, batchID)
	if err != nil {
		// Fall through to the store, which enforces uniqueness anyway.
		c.logger.Warn("shared dedup lookup failed", map[string]interface{}{
			"batch": batchID,
			"error": err.Error(),
		})
		return false
	}
	if seen {
		c.dedup.Mark(batchID)
	}
	return seen
}

func (c *Collector) mark(ctx context.Context, batchID string) {
	c.dedup.Mark(batchID)
	if c.shared == nil {
		return
	}
	if err := c.shared.Mark(ctx, batchID); err != nil {
		c.logger.Warn("shared dedup mark failed", map[string]interface{}{
			"batch": batchID,
			"error": err.Error(),
		})
	}
}

// metricType folds application-defined types into one label value.
func metricType(t activity.Type) string {
	for _, b := range activity.BuiltinTypes {
		if t == b {
			return string(t)
		}
	}
	return "other"
}
