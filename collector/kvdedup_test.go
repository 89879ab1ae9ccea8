package collector

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func TestKVKeyAlphabet(t *testing.T) {
	valid := regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)
	for _, id := range []string{"4f0c2c8e-1b7a-4c55-9d8e-2b1f8a7c3e10", "batch 1/2?", "ü"} {
		if k := kvKey(id); !valid.MatchString(k) {
			t.Errorf("kvKey(%q) = %q is not a valid KV key", id, k)
		}
	}
	if kvKey("a") == kvKey("b") {
		t.Error("distinct ids should map to distinct keys")
	}
}

func TestKVDedup(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" || testing.Short() {
		t.Skip("set NATS_URL to a JetStream-enabled server to run")
	}
	conn, err := nats.Connect(url)
	if err != nil {
		t.Skipf("NATS not available: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	d, err := NewKVDedup(ctx, conn, "activity-test-dedup", time.Minute)
	if err != nil {
		t.Fatalf("NewKVDedup error: %v", err)
	}

	id := "b-" + time.Now().Format("150405.000000000")
	if seen, err := d.Seen(ctx, id); err != nil || seen {
		t.Fatalf("Seen before mark = %v, %v", seen, err)
	}
	if err := d.Mark(ctx, id); err != nil {
		t.Fatalf("Mark error: %v", err)
	}
	if err := d.Mark(ctx, id); err != nil {
		t.Fatalf("second Mark error: %v", err)
	}
	if seen, err := d.Seen(ctx, id); err != nil || !seen {
		t.Fatalf("Seen after mark = %v, %v", seen, err)
	}
}

func TestNewKVDedup_RequiresConn(t *testing.T) {
	if _, err := NewKVDedup(context.Background(), nil, "", time.Minute); err == nil {
		t.Fatal("expected error without a connection")
	}
}
