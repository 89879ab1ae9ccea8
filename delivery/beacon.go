package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MaxBeaconBytes is the largest payload a beacon accepts.
const MaxBeaconBytes = 64 * 1024

// HTTPBeacon posts batches in the background on a context detached from
// the caller, so the request outlives the connection that triggered it.
type HTTPBeacon struct {
	sender  *HTTPSender
	timeout time.Duration
	wg      sync.WaitGroup
	closed  atomic.Bool

	// OnDone, if set, is called with the outcome of each detached send.
	OnDone func(p Payload, err error)
}

var _ Beacon = (*HTTPBeacon)(nil)

// NewHTTPBeacon creates a beacon sharing the sender's client and cookies.
// timeout bounds each detached request; zero means 10s.
func NewHTTPBeacon(sender *HTTPSender, timeout time.Duration) *HTTPBeacon {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBeacon{sender: sender, timeout: timeout}
}

// Beacon queues p for delivery. It rejects oversize payloads and any call
// after Close.
func (b *HTTPBeacon) Beacon(p Payload) bool {
	if len(p.Body) > MaxBeaconBytes || b.closed.Load() {
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		err := b.sender.Send(ctx, p)
		if b.OnDone != nil {
			b.OnDone(p, err)
		}
	}()
	return true
}

// Close stops accepting payloads and waits for in-flight sends, bounded by ctx.
func (b *HTTPBeacon) Close(ctx context.Context) error {
	b.closed.Store(true)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
