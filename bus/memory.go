package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
type MemoryBus struct {
	config Config

	mu          sync.RWMutex
	subs        map[string][]*memorySub
	queueGroups map[string]map[string]*queueGroup // subject -> queue -> group
	closed      atomic.Bool
}

type queueGroup struct {
	members []*memorySub
	next    uint64
}

type memorySub struct {
	subject string
	queue   string
	ch      chan *Message
	closed  atomic.Bool
	bus     *MemoryBus
}

var _ MessageBus = (*MemoryBus)(nil)

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config:      cfg,
		subs:        make(map[string][]*memorySub),
		queueGroups: make(map[string]map[string]*queueGroup),
	}
}

// Publish sends a message to all subscribers.
func (b *MemoryBus) Publish(subject string, data []byte) error {
	return b.PublishMsg(&Message{Subject: subject, Data: data})
}

// PublishMsg sends a message with headers. Each subscriber receives its own copy.
func (b *MemoryBus) PublishMsg(msg *Message) error {
	if msg == nil {
		return ErrInvalidSubject
	}
	if err := ValidateSubject(msg.Subject); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs[msg.Subject] {
		sub.offer(msg)
	}
	for _, group := range b.queueGroups[msg.Subject] {
		b.deliverToOneInQueue(group, msg)
	}
	return nil
}

// deliverToOneInQueue hands msg to one member, starting round-robin and
// falling through members whose buffers are full.
func (b *MemoryBus) deliverToOneInQueue(group *queueGroup, msg *Message) {
	n := len(group.members)
	if n == 0 {
		return
	}
	start := atomic.AddUint64(&group.next, 1) - 1
	for i := 0; i < n; i++ {
		sub := group.members[(int(start)+i)%n]
		if sub.offer(msg) {
			return
		}
	}
}

// offer does a non-blocking send. Returns false when the buffer is full
// or the subscription is closed.
func (s *memorySub) offer(msg *Message) bool {
	if s.closed.Load() {
		return false
	}
	cp := &Message{
		Subject: msg.Subject,
		Data:    append([]byte(nil), msg.Data...),
		Header:  copyHeader(msg.Header),
	}
	select {
	case s.ch <- cp:
		return true
	default:
		return false
	}
}

// Subscribe creates a subscription to a subject.
func (b *MemoryBus) Subscribe(subject string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	b.subs[subject] = append(b.subs[subject], sub)
	b.mu.Unlock()

	return sub, nil
}

// QueueSubscribe creates a queue subscription.
func (b *MemoryBus) QueueSubscribe(subject, queue string) (Subscription, error) {
	if err := ValidateSubject(subject); err != nil {
		return nil, err
	}
	if queue == "" {
		return nil, ErrInvalidSubject
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		subject: subject,
		queue:   queue,
		ch:      make(chan *Message, b.config.BufferSize),
		bus:     b,
	}

	b.mu.Lock()
	if b.queueGroups[subject] == nil {
		b.queueGroups[subject] = make(map[string]*queueGroup)
	}
	group := b.queueGroups[subject][queue]
	if group == nil {
		group = &queueGroup{}
		b.queueGroups[subject][queue] = group
	}
	group.members = append(group.members, sub)
	b.mu.Unlock()

	return sub, nil
}

// Close shuts down the bus and closes every subscription channel.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			if !sub.closed.Swap(true) {
				close(sub.ch)
			}
		}
	}
	for _, groups := range b.queueGroups {
		for _, group := range groups {
			for _, sub := range group.members {
				if !sub.closed.Swap(true) {
					close(sub.ch)
				}
			}
		}
	}

	b.subs = nil
	b.queueGroups = nil
	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	if s.queue == "" {
		s.bus.removeSub(s)
	} else {
		s.bus.removeQueueSub(s)
	}

	close(s.ch)
	return nil
}

func (b *MemoryBus) removeSub(target *memorySub) {
	subs := b.subs[target.subject]
	for i, sub := range subs {
		if sub == target {
			b.subs[target.subject] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

func (b *MemoryBus) removeQueueSub(target *memorySub) {
	group := b.queueGroups[target.subject][target.queue]
	if group == nil {
		return
	}
	for i, sub := range group.members {
		if sub == target {
			group.members = append(group.members[:i:i], group.members[i+1:]...)
			return
		}
	}
}
