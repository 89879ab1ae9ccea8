package bus

import (
	"testing"
	"time"
)

func TestValidateSubject(t *testing.T) {
	tests := []struct {
		subject string
		wantErr bool
	}{
		{"activity", false},
		{"activity.batches", false},
		{"activity.>", false},
		{"", true},
		{".activity", true},
		{"activity.", true},
		{"activity..batches", true},
		{"activity batches", true},
	}

	for _, tt := range tests {
		err := ValidateSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateSubject(%q) = %v, wantErr %v", tt.subject, err, tt.wantErr)
		}
	}
}

func receive(t *testing.T, sub Subscription) *Message {
	t.Helper()
	select {
	case msg, ok := <-sub.Messages():
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	return nil
}

func TestMemoryBus_PublishWithoutSubscribers(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	if err := b.Publish(DefaultSubject, []byte("{}")); err != nil {
		t.Errorf("Publish error: %v", err)
	}
	if err := b.Publish("", []byte("{}")); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMemoryBus_PublishMsgCarriesHeader(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, err := b.Subscribe(DefaultSubject)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer sub.Unsubscribe()

	header := map[string]string{HeaderBatchID: "b-1"}
	if err := b.PublishMsg(&Message{Subject: DefaultSubject, Data: []byte(`{"events":[]}`), Header: header}); err != nil {
		t.Fatalf("PublishMsg error: %v", err)
	}
	header[HeaderBatchID] = "mutated"

	msg := receive(t, sub)
	if msg.Header[HeaderBatchID] != "b-1" {
		t.Errorf("header = %q, want %q", msg.Header[HeaderBatchID], "b-1")
	}
	if string(msg.Data) != `{"events":[]}` {
		t.Errorf("data = %q", msg.Data)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub1, _ := b.Subscribe("s")
	sub2, _ := b.Subscribe("s")

	b.Publish("s", []byte("hello"))

	for i, sub := range []Subscription{sub1, sub2} {
		if msg := receive(t, sub); string(msg.Data) != "hello" {
			t.Errorf("sub%d: data = %q, want %q", i+1, msg.Data, "hello")
		}
	}
}

func TestMemoryBus_QueueSubscribeDeliversOnce(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	var subs []Subscription
	for i := 0; i < 3; i++ {
		sub, err := b.QueueSubscribe("s", "collectors")
		if err != nil {
			t.Fatalf("QueueSubscribe error: %v", err)
		}
		subs = append(subs, sub)
	}

	const n = 9
	for i := 0; i < n; i++ {
		b.Publish("s", []byte("x"))
	}

	total := 0
	for _, sub := range subs {
		total += len(sub.Messages())
	}
	if total != n {
		t.Errorf("queue group received %d messages, want %d", total, n)
	}

	// Round-robin spreads the load.
	for i, sub := range subs {
		if got := len(sub.Messages()); got != n/3 {
			t.Errorf("member %d got %d messages, want %d", i, got, n/3)
		}
	}
}

func TestMemoryBus_QueueSubscribeRequiresQueue(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	if _, err := b.QueueSubscribe("s", ""); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	defer b.Close()

	sub, _ := b.Subscribe("s")
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}
	// Second call is a no-op.
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second Unsubscribe error: %v", err)
	}

	b.Publish("s", []byte("x"))
	if _, ok := <-sub.Messages(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestMemoryBus_Close(t *testing.T) {
	b := NewMemoryBus(DefaultConfig())
	sub, _ := b.Subscribe("s")
	qsub, _ := b.QueueSubscribe("s", "q")

	if err := b.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, ok := <-sub.Messages(); ok {
		t.Error("subscription should be closed")
	}
	if _, ok := <-qsub.Messages(); ok {
		t.Error("queue subscription should be closed")
	}
	if err := b.Publish("s", nil); err != ErrClosed {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if _, err := b.Subscribe("s"); err != ErrClosed {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
	// Unsubscribe after Close is harmless.
	sub.Unsubscribe()
}

func TestMemoryBus_FullBufferDrops(t *testing.T) {
	b := NewMemoryBus(Config{BufferSize: 1})
	defer b.Close()

	sub, _ := b.Subscribe("s")
	b.Publish("s", []byte("1"))
	b.Publish("s", []byte("2"))

	if got := len(sub.Messages()); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
}
