package collector

import (
	"container/list"
	"sync"
	"time"

	"github.com/vinayprograms/activitykit/clock"
)

// Dedup is a TTL-bound LRU of batch ids already stored. It only saves a
// store round trip; the stores enforce uniqueness themselves.
type Dedup struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	clock clock.Clock
	ll    *list.List               // most-recent at front
	items map[string]*list.Element // key -> element
}

type dedupEntry struct {
	key string
	exp time.Time
}

// NewDedup creates a set holding at most maxKeys ids for ttl each.
func NewDedup(maxKeys int, ttl time.Duration, c clock.Clock) *Dedup {
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if c == nil {
		c = clock.Real{}
	}
	return &Dedup{
		cap:   maxKeys,
		ttl:   ttl,
		clock: c,
		ll:    list.New(),
		items: make(map[string]*list.Element),
	}
}

// Seen reports whether key was marked and has not expired.
func (d *Dedup) Seen(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	el, ok := d.items[key]
	if !ok {
		return false
	}
	if d.clock.Now().Before(el.Value.(dedupEntry).exp) {
		d.ll.MoveToFront(el)
		return true
	}
	d.ll.Remove(el)
	delete(d.items, key)
	return false
}

// Mark records key, refreshing its expiry if present.
func (d *Dedup) Mark(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if el, ok := d.items[key]; ok {
		el.Value = dedupEntry{key: key, exp: now.Add(d.ttl)}
		d.ll.MoveToFront(el)
		return
	}
	d.items[key] = d.ll.PushFront(dedupEntry{key: key, exp: now.Add(d.ttl)})

	for d.ll.Len() > d.cap {
		d.removeBack()
	}
	// Drop expired entries from the tail.
	for back := d.ll.Back(); back != nil && !now.Before(back.Value.(dedupEntry).exp); back = d.ll.Back() {
		d.removeBack()
	}
}

// Len returns the number of tracked ids, expired ones included.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ll.Len()
}

func (d *Dedup) removeBack() {
	back := d.ll.Back()
	if back == nil {
		return
	}
	d.ll.Remove(back)
	delete(d.items, back.Value.(dedupEntry).key)
}
