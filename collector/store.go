package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/activitykit/activity"
)

// Record is one stored event.
type Record struct {
	BatchID    string
	Event      activity.Event
	ReceivedAt time.Time
}

// Query selects stored events. Zero fields match everything.
type Query struct {
	SessionID string
	TaskID    string
	Type      activity.Type
	// Limit caps the result. Zero means DefaultQueryLimit.
	Limit int
}

// DefaultQueryLimit bounds queries without an explicit limit.
const DefaultQueryLimit = 1000

// OpenStore opens a store by kind: sqlite (dsn is a file path), postgres
// (dsn is a connection string) or memory.
func OpenStore(kind, dsn string) (Store, error) {
	switch kind {
	case "sqlite":
		s, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", kind)
	}
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return DefaultQueryLimit
	}
	return q.Limit
}

func (q Query) matches(e activity.Event) bool {
	return (q.SessionID == "" || e.SessionID == q.SessionID) &&
		(q.TaskID == "" || e.TaskID == q.TaskID) &&
		(q.Type == "" || e.Type == q.Type)
}

// Store persists batches.
type Store interface {
	// SaveBatch stores events in one transaction. A non-empty batchID that
	// was stored before makes it return false and store nothing.
	SaveBatch(ctx context.Context, batchID string, events []activity.Event, receivedAt time.Time) (bool, error)

	// Events returns matching events ordered by timestamp, then arrival.
	Events(ctx context.Context, q Query) ([]Record, error)

	Close() error
}

// MemoryStore keeps records in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
	batches map[string]bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{batches: make(map[string]bool)}
}

// SaveBatch implements Store.
func (s *MemoryStore) SaveBatch(_ context.Context, batchID string, events []activity.Event, receivedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batchID != "" {
		if s.batches[batchID] {
			return false, nil
		}
		s.batches[batchID] = true
	}
	for _, e := range events {
		s.records = append(s.records, Record{BatchID: batchID, Event: e, ReceivedAt: receivedAt})
	}
	return true, nil
}

// Events implements Store.
func (s *MemoryStore) Events(_ context.Context, q Query) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, r := range s.records {
		if q.matches(r.Event) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Event.Timestamp.Before(out[j].Event.Timestamp)
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out, nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }
