package heartbeat

import (
	"errors"
	"sync"
	"time"

	"github.com/vinayprograms/activitykit/clock"
)

// ErrInvalidConfig is returned for a config without a Tick function.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultInterval between ticks.
const DefaultInterval = 10 * time.Second

// Config configures a Timer.
type Config struct {
	// Interval between ticks.
	// Default: 10 seconds
	Interval time.Duration

	// Clock schedules ticks.
	// Default: clock.Real{}
	Clock clock.Clock

	// Tick is called on every interval. Required.
	Tick func()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Tick == nil {
		return ErrInvalidConfig
	}
	if c.Interval < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultInterval,
		Clock:    clock.Real{},
	}
}

// Timer calls Tick at a fixed interval until stopped.
// It is safe for concurrent use.
type Timer struct {
	interval time.Duration
	clock    clock.Clock
	tick     func()

	mu    sync.Mutex
	timer clock.Timer
	gen   uint64 // bumped on every Start/Stop so stale callbacks exit
	ticks uint64
}

// NewTimer creates a stopped timer.
func NewTimer(cfg Config) (*Timer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	return &Timer{
		interval: interval,
		clock:    clk,
		tick:     cfg.Tick,
	}, nil
}

// Start clears any running interval and begins a new one.
// The first tick fires one interval from now.
func (t *Timer) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.clearLocked()
	t.scheduleLocked(t.gen)
}

// Stop clears the interval if one is running.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearLocked()
}

// Running reports whether an interval is active.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

// Ticks returns the number of ticks delivered since creation.
func (t *Timer) Ticks() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticks
}

// Interval returns the configured tick interval.
func (t *Timer) Interval() time.Duration {
	return t.interval
}

func (t *Timer) clearLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

func (t *Timer) scheduleLocked(gen uint64) {
	t.timer = t.clock.AfterFunc(t.interval, func() { t.fire(gen) })
}

// fire runs one tick and re-arms the interval, unless the timer was
// restarted or stopped after this callback was scheduled.
func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	t.ticks++
	t.scheduleLocked(gen)
	t.mu.Unlock()

	t.tick()
}
