package activity

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/activitykit/clock"
	"github.com/vinayprograms/activitykit/delivery"
	"github.com/vinayprograms/activitykit/heartbeat"
	"github.com/vinayprograms/activitykit/logging"
	"github.com/vinayprograms/activitykit/ratelimit"
	"github.com/vinayprograms/activitykit/telemetry"
)

// Common errors.
var (
	ErrInvalidConfig = errors.New("invalid tracker configuration")
	ErrNoSender      = errors.New("tracker requires a sender")
)

// Config holds the tracker's tuning constants.
type Config struct {
	// FlushDelay is how long after the first queued event a flush runs.
	// Default: 5 seconds
	FlushDelay time.Duration

	// BackoffDelay replaces FlushDelay after a failed delivery.
	// Default: 9 seconds
	BackoffDelay time.Duration

	// BatchSize is the most events sent in one request, and the queue
	// length that triggers an immediate flush.
	// Default: 30
	BatchSize int

	// MaxPayloadBytes is the encoded size above which a batch is trimmed.
	// Default: 30000
	MaxPayloadBytes int

	// HeartbeatInterval is the dwell-time tick period.
	// Default: 10 seconds
	HeartbeatInterval time.Duration

	// RateWindow is the rate-limit counting period.
	// Default: 1 minute
	RateWindow time.Duration

	// Limits caps event types per window. Nil means ratelimit.DefaultLimits().
	Limits map[string]int
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		FlushDelay:        5 * time.Second,
		BackoffDelay:      9 * time.Second,
		BatchSize:         30,
		MaxPayloadBytes:   30000,
		HeartbeatInterval: heartbeat.DefaultInterval,
		RateWindow:        ratelimit.DefaultWindow,
		Limits:            ratelimit.DefaultLimits(),
	}
}

// Validate checks the configuration. Zero values are allowed and mean default.
func (c *Config) Validate() error {
	if c.FlushDelay < 0 || c.BackoffDelay < 0 || c.HeartbeatInterval < 0 || c.RateWindow < 0 {
		return ErrInvalidConfig
	}
	if c.BatchSize < 0 || c.MaxPayloadBytes < 0 {
		return ErrInvalidConfig
	}
	for _, n := range c.Limits {
		if n < 0 {
			return ErrInvalidConfig
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FlushDelay == 0 {
		c.FlushDelay = d.FlushDelay
	}
	if c.BackoffDelay == 0 {
		c.BackoffDelay = d.BackoffDelay
	}
	if c.BatchSize == 0 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = d.MaxPayloadBytes
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.RateWindow == 0 {
		c.RateWindow = d.RateWindow
	}
	if c.Limits == nil {
		c.Limits = d.Limits
	}
	return c
}

// Options holds the tracker's collaborators.
type Options struct {
	// Sender delivers batches on the standard path. Required.
	Sender delivery.Sender

	// Beacon delivers reliable flushes. Optional; without it reliable
	// flushes use Sender.
	Beacon delivery.Beacon

	// Clock defaults to clock.Real{}.
	Clock clock.Clock

	// Logger defaults to logging.Discard().
	Logger *logging.Logger

	// Tracer defaults to telemetry.GetTracer().
	Tracer *telemetry.Tracer

	// Page and UserAgent seed the values stamped on every event.
	Page      string
	UserAgent string

	// NewBatchID defaults to uuid.NewString.
	NewBatchID func() string
}

// ContextUpdate is the argument to SetContext. Empty fields are not provided.
type ContextUpdate struct {
	SessionID string
	TaskID    string
}

// Stats counts tracker activity since creation.
type Stats struct {
	Enqueued uint64
	Dropped  uint64
	Batches  uint64 // delivery attempts, including beacons
	Sent     uint64 // events acknowledged by the sender
	Failed   uint64 // failed delivery attempts
	Trimmed  uint64 // batches encoded in trimmed form
	Beacons  uint64 // batches handed to the beacon
	Rejected uint64 // batches the beacon refused
}

type counters struct {
	enqueued, dropped, batches, sent, failed, trimmed, beacons, rejected atomic.Uint64
}

// Tracker queues activity events and delivers them in batches.
// All methods are safe for concurrent use and none of them report
// delivery failures to the caller.
type Tracker struct {
	config    Config
	sender    delivery.Sender
	beacon    delivery.Beacon
	clock     clock.Clock
	logger    *logging.Logger
	tracer    *telemetry.Tracer
	newID     func() string
	limiter   *ratelimit.WindowLimiter
	queue     *Queue
	heartbeat *heartbeat.Timer

	// ctxMu serializes SetContext so a task_switch event and the
	// task change it describes are applied together.
	ctxMu sync.Mutex

	mu           sync.Mutex
	sessionID    string
	taskID       string
	taskOpenedAt time.Time
	page         string
	userAgent    string
	flushTimer   clock.Timer
	flushGen     uint64
	lastFlush    time.Time
	closed       bool

	inflight sync.WaitGroup
	stats    counters
}

// NewTracker creates a tracker. The heartbeat does not run until the
// first SetContext.
func NewTracker(cfg Config, opts Options) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Sender == nil {
		return nil, ErrNoSender
	}
	cfg = cfg.withDefaults()

	t := &Tracker{
		config:    cfg,
		sender:    opts.Sender,
		beacon:    opts.Beacon,
		clock:     opts.Clock,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
		newID:     opts.NewBatchID,
		page:      opts.Page,
		userAgent: opts.UserAgent,
		queue:     NewQueue(),
		limiter: ratelimit.NewWindowLimiter(ratelimit.Config{
			Window: cfg.RateWindow,
			Limits: cfg.Limits,
		}),
	}
	if t.clock == nil {
		t.clock = clock.Real{}
	}
	if t.logger == nil {
		t.logger = logging.Discard()
	}
	if t.tracer == nil {
		t.tracer = telemetry.GetTracer()
	}
	if t.newID == nil {
		t.newID = uuid.NewString
	}

	hb, err := heartbeat.NewTimer(heartbeat.Config{
		Interval: cfg.HeartbeatInterval,
		Clock:    t.clock,
		Tick:     t.tick,
	})
	if err != nil {
		return nil, err
	}
	t.heartbeat = hb

	return t, nil
}

// Enqueue records an event of type typ, subject to the per-type cap.
// Dropped and post-Close events are silently ignored.
func (t *Tracker) Enqueue(typ Type, payload Payload) {
	if typ == "" {
		return
	}

	now := t.clock.Now()
	if !t.limiter.Admit(string(typ), now) {
		t.stats.dropped.Add(1)
		limit, _ := t.limiter.Limit(string(typ))
		t.logger.EventDropped(string(typ), limit)
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	n := t.queue.Push(Event{
		Timestamp: now,
		Type:      typ,
		TaskID:    t.taskID,
		SessionID: t.sessionID,
		Payload:   clonePayload(payload),
		Page:      t.page,
		UserAgent: t.userAgent,
	})
	if t.flushTimer == nil {
		t.scheduleFlushLocked(t.config.FlushDelay)
	}
	t.mu.Unlock()

	t.stats.enqueued.Add(1)

	if n >= t.config.BatchSize {
		t.Flush(false)
	}
}

// Log records an application-defined event. It is Enqueue under the name
// the host page uses.
func (t *Tracker) Log(typ string, payload Payload) {
	t.Enqueue(Type(typ), payload)
}

// scheduleFlushLocked replaces any pending flush with one after d.
func (t *Tracker) scheduleFlushLocked(d time.Duration) {
	if t.flushTimer != nil {
		t.flushTimer.Stop()
	}
	t.flushGen++
	gen := t.flushGen
	t.flushTimer = t.clock.AfterFunc(d, func() { t.onFlushTimer(gen) })
}

func (t *Tracker) cancelFlushLocked() {
	if t.flushTimer != nil {
		t.flushTimer.Stop()
		t.flushTimer = nil
	}
	t.flushGen++
}

func (t *Tracker) onFlushTimer(gen uint64) {
	t.mu.Lock()
	if gen != t.flushGen {
		t.mu.Unlock()
		return
	}
	t.flushTimer = nil
	t.mu.Unlock()

	t.Flush(false)
}

// Flush removes up to BatchSize events from the front of the queue and
// delivers them. With reliable set and a Beacon configured, the batch is
// handed to the beacon and forgotten. Otherwise it is sent on a separate
// goroutine; on failure it returns to the front of the queue and the next
// flush is pushed out to BackoffDelay. Flush does not wait for delivery.
func (t *Tracker) Flush(reliable bool) {
	batch := t.queue.TakeFront(t.config.BatchSize)
	if len(batch) == 0 {
		return
	}

	t.mu.Lock()
	t.lastFlush = t.clock.Now()
	sessionID := t.sessionID
	t.mu.Unlock()

	body, trimmed := EncodeBatch(batch, t.config.MaxPayloadBytes)
	if trimmed {
		t.stats.trimmed.Add(1)
		t.logger.BatchTrimmed(len(batch), len(body), t.config.MaxPayloadBytes)
	}

	p := delivery.Payload{ID: t.newID(), Body: body, Events: len(batch)}
	span := telemetry.FlushSpanOptions{
		BatchID:  p.ID,
		Events:   len(batch),
		Bytes:    len(body),
		Trimmed:  trimmed,
		Reliable: reliable,
	}
	if t.tracer.Debug() {
		span.Types = countTypes(batch)
	}
	t.stats.batches.Add(1)

	if reliable && t.beacon != nil {
		t.sendBeacon(p, span, sessionID)
		return
	}

	t.inflight.Add(1)
	go t.deliver(batch, p, span, sessionID)
}

func (t *Tracker) sendBeacon(p delivery.Payload, opts telemetry.FlushSpanOptions, sessionID string) {
	_, span := t.tracer.StartFlushSpan(context.Background(), sessionID)
	var err error
	if t.beacon.Beacon(p) {
		t.stats.beacons.Add(1)
		t.logger.BatchSent(p.ID, p.Events, len(p.Body), true)
	} else {
		t.stats.rejected.Add(1)
		err = errBeaconRejected
		t.logger.Warn("beacon_rejected", map[string]interface{}{
			"batch":  p.ID,
			"events": p.Events,
			"bytes":  len(p.Body),
		})
	}
	t.tracer.EndFlushSpan(span, opts, err)
}

var errBeaconRejected = errors.New("beacon rejected payload")

func (t *Tracker) deliver(batch []Event, p delivery.Payload, opts telemetry.FlushSpanOptions, sessionID string) {
	defer t.inflight.Done()

	ctx, span := t.tracer.StartFlushSpan(context.Background(), sessionID)
	err := t.sender.Send(ctx, p)
	if err == nil {
		t.stats.sent.Add(uint64(len(batch)))
		t.logger.BatchSent(p.ID, p.Events, len(p.Body), false)
		t.tracer.EndFlushSpan(span, opts, nil)
		return
	}

	t.stats.failed.Add(1)
	t.queue.PushFront(batch)

	t.mu.Lock()
	if !t.closed {
		t.scheduleFlushLocked(t.config.BackoffDelay)
	}
	t.mu.Unlock()

	t.logger.BatchRequeued(len(batch), t.config.BackoffDelay, err)
	opts.Requeued = true
	t.tracer.EndFlushSpan(span, opts, err)
}

// SetContext updates the session and task. A new task id first records a
// task_switch event carrying the time spent on the previous task. The
// heartbeat is restarted on every call, including session-only updates.
func (t *Tracker) SetContext(u ContextUpdate) {
	t.ctxMu.Lock()
	defer t.ctxMu.Unlock()

	now := t.clock.Now()

	t.mu.Lock()
	if u.SessionID != "" {
		t.sessionID = u.SessionID
	}
	from := t.taskID
	opened := t.taskOpenedAt
	switching := u.TaskID != "" && u.TaskID != from
	t.mu.Unlock()

	if switching {
		spent := 0
		if from != "" {
			spent = secondsBetween(opened, now)
		}
		var fromTask any
		if from != "" {
			fromTask = from
		}
		t.Enqueue(TypeTaskSwitch, Payload{
			"from_task":     fromTask,
			"to_task":       u.TaskID,
			"seconds_spent": spent,
		})
		t.logger.TaskSwitch(from, u.TaskID, time.Duration(spent)*time.Second)

		t.mu.Lock()
		t.taskID = u.TaskID
		t.taskOpenedAt = now
		t.mu.Unlock()
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if !closed {
		t.heartbeat.Start()
	}
}

// tick records a heartbeat for the active task, if any.
func (t *Tracker) tick() {
	t.mu.Lock()
	task := t.taskID
	opened := t.taskOpenedAt
	t.mu.Unlock()

	if task == "" {
		return
	}
	t.Enqueue(TypeHeartbeat, Payload{
		"seconds_on_task": secondsBetween(opened, t.clock.Now()),
	})
}

// secondsBetween rounds to whole seconds and never goes negative.
func secondsBetween(from, to time.Time) int {
	s := math.Round(to.Sub(from).Seconds())
	if s < 0 {
		return 0
	}
	return int(s)
}

// SetPage sets the page path stamped on subsequent events.
func (t *Tracker) SetPage(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.page = path
}

// SetUserAgent sets the platform identifier stamped on subsequent events.
func (t *Tracker) SetUserAgent(ua string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userAgent = ua
}

// Exit records an exit event, makes one reliable flush and stops the
// heartbeat. Events beyond the first batch stay queued.
func (t *Tracker) Exit() {
	t.Enqueue(TypeExit, nil)
	t.Flush(true)
	t.heartbeat.Stop()
}

// Wait blocks until deliveries started so far have finished.
func (t *Tracker) Wait() {
	t.inflight.Wait()
}

// Close stops the heartbeat and the flush timer, then waits for in-flight
// deliveries until ctx is done. Queued events are not sent; call Exit first
// for that. Events enqueued after Close are ignored.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.cancelFlushLocked()
	t.mu.Unlock()

	t.heartbeat.Stop()

	done := make(chan struct{})
	go func() {
		t.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SessionID returns the current session id.
func (t *Tracker) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// TaskID returns the current task id.
func (t *Tracker) TaskID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskID
}

// LastFlush returns when the most recent flush took a batch.
func (t *Tracker) LastFlush() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFlush
}

// FlushScheduled reports whether a timed flush is pending.
func (t *Tracker) FlushScheduled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushTimer != nil
}

// HeartbeatRunning reports whether the heartbeat interval is active.
func (t *Tracker) HeartbeatRunning() bool {
	return t.heartbeat.Running()
}

// Pending returns the number of queued events.
func (t *Tracker) Pending() int {
	return t.queue.Len()
}

// Queued returns a copy of the queued events in order.
func (t *Tracker) Queued() []Event {
	return t.queue.Snapshot()
}

// RateWindow returns the current rate-limit counters.
func (t *Tracker) RateWindow() ratelimit.Snapshot {
	return t.limiter.Snapshot()
}

// Stats returns a snapshot of the tracker counters.
func (t *Tracker) Stats() Stats {
	return Stats{
		Enqueued: t.stats.enqueued.Load(),
		Dropped:  t.stats.dropped.Load(),
		Batches:  t.stats.batches.Load(),
		Sent:     t.stats.sent.Load(),
		Failed:   t.stats.failed.Load(),
		Trimmed:  t.stats.trimmed.Load(),
		Beacons:  t.stats.beacons.Load(),
		Rejected: t.stats.rejected.Load(),
	}
}

func countTypes(batch []Event) map[string]int {
	out := make(map[string]int)
	for _, e := range batch {
		out[string(e.Type)]++
	}
	return out
}
