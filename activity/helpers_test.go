package activity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/activitykit/clock"
	"github.com/vinayprograms/activitykit/delivery"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// fakeSender records payloads and fails while fail is set. If gate is
// non-nil, Send blocks until it is closed.
type fakeSender struct {
	mu       sync.Mutex
	payloads []delivery.Payload
	fail     atomic.Bool
	gate     chan struct{}
}

func (s *fakeSender) Send(_ context.Context, p delivery.Payload) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.payloads = append(s.payloads, p)
	s.mu.Unlock()
	if s.fail.Load() {
		return errors.New("network down")
	}
	return nil
}

func (s *fakeSender) calls() []delivery.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery.Payload(nil), s.payloads...)
}

type fakeBeacon struct {
	mu       sync.Mutex
	payloads []delivery.Payload
	reject   bool
}

func (b *fakeBeacon) Beacon(p delivery.Payload) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reject {
		return false
	}
	b.payloads = append(b.payloads, p)
	return true
}

func (b *fakeBeacon) calls() []delivery.Payload {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]delivery.Payload(nil), b.payloads...)
}

type harness struct {
	tracker *Tracker
	clock   *clock.Fake
	sender  *fakeSender
	beacon  *fakeBeacon
}

// newHarness builds a tracker on a fake clock. mutate may adjust the config.
func newHarness(t *testing.T, withBeacon bool, mutate func(*Config)) *harness {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		clock:  clock.NewFake(epoch),
		sender: &fakeSender{},
	}
	opts := Options{
		Sender:    h.sender,
		Clock:     h.clock,
		Page:      "/tasks/1",
		UserAgent: "test-agent",
	}
	if withBeacon {
		h.beacon = &fakeBeacon{}
		opts.Beacon = h.beacon
	}

	var seq atomic.Int64
	opts.NewBatchID = func() string { return fmt.Sprintf("b-%d", seq.Add(1)) }

	tr, err := NewTracker(cfg, opts)
	if err != nil {
		t.Fatalf("NewTracker error: %v", err)
	}
	t.Cleanup(func() { tr.Close(context.Background()) })
	h.tracker = tr
	return h
}

// quiet disables the timed flush so tests can inspect the queue.
func quiet(c *Config) {
	c.FlushDelay = time.Hour
}

func decode(t *testing.T, p delivery.Payload) []Event {
	t.Helper()
	b, err := DecodeBatch(p.Body)
	if err != nil {
		t.Fatalf("DecodeBatch error: %v", err)
	}
	return b.Events
}

func eventsOfType(events []Event, typ Type) []Event {
	var out []Event
	for _, e := range events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func totalEvents(payloads []delivery.Payload) int {
	n := 0
	for _, p := range payloads {
		n += p.Events
	}
	return n
}
