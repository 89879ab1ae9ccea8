package collector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// DefaultDedupBucket is the JetStream KV bucket used by KVDedup.
const DefaultDedupBucket = "activity-batches"

// KVDedup keeps stored batch ids in a JetStream key-value bucket whose TTL
// expires them.
type KVDedup struct {
	kv jetstream.KeyValue
}

var _ SharedDedup = (*KVDedup)(nil)

// NewKVDedup creates or updates bucket on conn. Entries live for ttl.
func NewKVDedup(ctx context.Context, conn *nats.Conn, bucket string, ttl time.Duration) (*KVDedup, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection required")
	}
	if bucket == "" {
		bucket = DefaultDedupBucket
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		TTL:     ttl,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create kv bucket: %w", err)
	}
	return &KVDedup{kv: kv}, nil
}

// Seen reports whether batchID was marked within the bucket TTL.
func (d *KVDedup) Seen(ctx context.Context, batchID string) (bool, error) {
	_, err := d.kv.Get(ctx, kvKey(batchID))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, jetstream.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("kv get: %w", err)
	}
}

// Mark records batchID. Marking an id twice is not an error.
func (d *KVDedup) Mark(ctx context.Context, batchID string) error {
	_, err := d.kv.Create(ctx, kvKey(batchID), []byte{1})
	if err != nil && !errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("kv create: %w", err)
	}
	return nil
}

// kvKey maps any batch id onto the KV key alphabet.
func kvKey(batchID string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(batchID))
}
