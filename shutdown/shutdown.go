package shutdown

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAlreadyShutdown is returned by Shutdown calls after the first.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout means the context ended before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")

	// ErrStepFailed means at least one step returned an error.
	ErrStepFailed = errors.New("one or more shutdown steps failed")
)

// Phases used by the agent and collector commands. Lower phases run first;
// steps within a phase run concurrently.
const (
	// PhaseIntake stops listeners so no new page sessions or batches arrive.
	PhaseIntake = 10

	// PhaseSessions ends open tracker sessions, which flushes their queues.
	PhaseSessions = 20

	// PhaseDelivery drains delivery paths such as the message bus.
	PhaseDelivery = 30

	// PhaseStorage closes stores, log files and the trace exporter.
	PhaseStorage = 40
)

// Handler is a component that needs to release resources on exit.
type Handler interface {
	// OnShutdown stops the component. ctx ends when the shutdown
	// deadline passes.
	OnShutdown(ctx context.Context) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context) error

// OnShutdown calls f.
func (f HandlerFunc) OnShutdown(ctx context.Context) error { return f(ctx) }

// Step is the outcome of one handler.
type Step struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result is the outcome of a whole shutdown.
type Result struct {
	Duration time.Duration
	Steps    []Step

	// Err is nil when every step succeeded.
	Err error
}

// Failed reports whether any step failed or the deadline passed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// FailedSteps returns the names of the steps that returned errors.
func (r *Result) FailedSteps() []string {
	var failed []string
	for _, s := range r.Steps {
		if s.Err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}

// Config configures a Coordinator.
type Config struct {
	// Timeout bounds a shutdown started by a signal or ShutdownWithTimeout(0).
	Timeout time.Duration

	// ContinueOnError runs later phases even if a step fails.
	ContinueOnError bool
}

// DefaultConfig returns a 10 second timeout that continues past failures.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		ContinueOnError: true,
	}
}

type registration struct {
	name    string
	phase   int
	handler Handler
}
