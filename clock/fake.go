package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a virtual clock. Time only moves when Advance or Set is called,
// and due callbacks run synchronously inside Advance.
// It is safe for concurrent use.
type Fake struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*fakeTimer
}

type fakeTimer struct {
	fc      *Fake
	due     time.Time
	seq     uint64 // scheduling order, breaks ties between equal due times
	f       func()
	stopped bool
	fired   bool
}

// NewFake creates a fake clock starting at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the virtual time.
func (c *Fake) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc queues f to run once virtual time reaches now+d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{
		fc:  c,
		due: c.now.Add(d),
		seq: c.seq,
		f:   f,
	}
	c.tasks = append(c.tasks, t)
	return t
}

// Advance moves time forward by d, running every callback that becomes due
// in due-time order. Callbacks scheduled by other callbacks also run if they
// fall inside the advanced span.
func (c *Fake) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.f()
	}

	c.mu.Lock()
	if c.now.Before(target) {
		c.now = target
	}
	c.mu.Unlock()
}

// nextDue pops the earliest live task due at or before target and moves the
// clock to its due time.
func (c *Fake) nextDue(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.tasks[:0]
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	c.tasks = live

	sort.SliceStable(c.tasks, func(i, j int) bool {
		if c.tasks[i].due.Equal(c.tasks[j].due) {
			return c.tasks[i].seq < c.tasks[j].seq
		}
		return c.tasks[i].due.Before(c.tasks[j].due)
	})

	if len(c.tasks) == 0 || c.tasks[0].due.After(target) {
		return nil
	}

	t := c.tasks[0]
	t.fired = true
	c.tasks = c.tasks[1:]
	if t.due.After(c.now) {
		c.now = t.due
	}
	return t
}

// Set jumps to t without running any callbacks.
func (c *Fake) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Pending returns the number of scheduled, not yet run callbacks.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, t := range c.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Stop cancels the callback.
func (t *fakeTimer) Stop() bool {
	t.fc.mu.Lock()
	defer t.fc.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

var _ Clock = (*Fake)(nil)
