package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// Common errors.
var (
	ErrInvalidWindow = errors.New("invalid window")
	ErrInvalidLimit  = errors.New("invalid limit")
)

// DefaultWindow is the length of one counting window.
const DefaultWindow = time.Minute

// DefaultLimits are the per-type caps applied within one window.
// Types not listed are uncapped.
func DefaultLimits() map[string]int {
	return map[string]int{
		"copy":       40,
		"paste":      60,
		"cut":        40,
		"tab_hidden": 30,
		"blur":       60,
	}
}

// Config configures a WindowLimiter.
type Config struct {
	// Window is the counting period.
	// Default: 1 minute
	Window time.Duration

	// Limits maps event type to its cap within a window.
	// Default: DefaultLimits()
	Limits map[string]int
}

// DefaultConfig returns configuration with the standard caps.
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Limits: DefaultLimits(),
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Window < 0 {
		return ErrInvalidWindow
	}
	for _, limit := range c.Limits {
		if limit < 0 {
			return ErrInvalidLimit
		}
	}
	return nil
}

// Snapshot describes the state of the current window.
type Snapshot struct {
	// WindowStart is when the current window began.
	WindowStart time.Time

	// Counts holds admissions per capped type in this window.
	Counts map[string]int
}

// WindowLimiter counts capped event types in a fixed window.
// It is safe for concurrent use.
type WindowLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	limits      map[string]int
	windowStart time.Time
	counts      map[string]int
}

// NewWindowLimiter creates a limiter. Zero-valued fields fall back to defaults.
func NewWindowLimiter(cfg Config) *WindowLimiter {
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}

	limits := cfg.Limits
	if limits == nil {
		limits = DefaultLimits()
	}

	copied := make(map[string]int, len(limits))
	for k, v := range limits {
		if v > 0 {
			copied[k] = v
		}
	}

	return &WindowLimiter{
		window: window,
		limits: copied,
		counts: make(map[string]int),
	}
}

// Admit reports whether an event of eventType at time now may be recorded.
func (l *WindowLimiter) Admit(eventType string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.counts = make(map[string]int)
	}

	limit, capped := l.limits[eventType]
	if !capped {
		return true
	}

	if l.counts[eventType] > limit {
		return false
	}
	l.counts[eventType]++
	return true
}

// SetLimit changes the cap for eventType. A limit <= 0 removes the cap.
func (l *WindowLimiter) SetLimit(eventType string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 {
		delete(l.limits, eventType)
		delete(l.counts, eventType)
		return
	}
	l.limits[eventType] = limit
}

// Limit returns the cap for eventType and whether one is set.
func (l *WindowLimiter) Limit(eventType string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.limits[eventType]
	return limit, ok
}

// Snapshot returns a copy of the current window's counters.
func (l *WindowLimiter) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	return Snapshot{
		WindowStart: l.windowStart,
		Counts:      counts,
	}
}
