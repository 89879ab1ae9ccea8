package collector

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vinayprograms/activitykit/activity"
	"github.com/vinayprograms/activitykit/bus"
	"github.com/vinayprograms/activitykit/delivery"
)

func waitForRecords(t *testing.T, s Store, n int) []Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		recs, _ := s.Events(context.Background(), Query{})
		if len(recs) >= n || time.Now().After(deadline) {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConsume_StoresBusBatches(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()

	store := NewMemoryStore()
	c, _ := newCollector(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Consume(ctx, b, bus.DefaultSubject, "collectors") }()

	sender := delivery.NewBusSender(b, "")
	body, _ := activity.EncodeBatch([]activity.Event{{Timestamp: epoch, Type: activity.TypeExit}}, 0)
	p := delivery.Payload{ID: "bus-1", Body: body, Events: 1}

	// Publish until the subscription is live.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sender.Send(context.Background(), p)
		if recs, _ := store.Events(context.Background(), Query{}); len(recs) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Resends of the same id are dropped.
	sender.Beacon(p)
	sender.Beacon(delivery.Payload{ID: "bus-2", Body: body, Events: 1})

	recs := waitForRecords(t, store, 2)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].BatchID != "bus-1" || recs[1].BatchID != "bus-2" {
		t.Errorf("batch ids = %q, %q", recs[0].BatchID, recs[1].BatchID)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Consume error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestConsume_SkipsMalformed(t *testing.T) {
	store := NewMemoryStore()
	c, _ := newCollector(t, store)

	c.consumeOne(context.Background(), &bus.Message{Subject: bus.DefaultSubject, Data: []byte("nope")})
	c.consumeOne(context.Background(), &bus.Message{
		Subject: bus.DefaultSubject,
		Data:    []byte(twoEvents),
		Header:  map[string]string{bus.HeaderBatchID: "bus-3"},
	})

	if got := testutil.ToFloat64(c.Metrics().rejected.WithLabelValues("malformed")); got != 1 {
		t.Errorf("rejected = %v, want 1", got)
	}
	if recs, _ := store.Events(context.Background(), Query{}); len(recs) != 2 {
		t.Errorf("records = %d, want 2 after a malformed message", len(recs))
	}
}
