// Package clock abstracts time for the activity pipeline.
//
// Production code uses Real, which delegates to the time package. Tests use
// Fake, a virtual clock with an ordered task queue, so that flush delays,
// backoff, rate-limit windows and heartbeat cadence can be driven
// deterministically:
//
//	fc := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
//	fc.AfterFunc(5*time.Second, flush)
//	fc.Advance(5 * time.Second) // flush runs here, on the caller's goroutine
package clock

import "time"

// Clock tells time and schedules callbacks.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// AfterFunc calls f once after d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running.
	// Returns false if it already ran or was stopped.
	Stop() bool
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now().
func (Real) Now() time.Time { return time.Now() }

// AfterFunc schedules f with time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

var _ Clock = Real{}
