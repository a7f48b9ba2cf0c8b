// Package broadcast fans newly ingested samples out to live subscribers.
//
// Each subscriber owns an unbounded FIFO queue drained by its own goroutine.
// Publish only appends to those queues, so the ingest path never waits on
// subscriber work, a slow subscriber never delays another, and every
// subscriber sees samples in publish order.
package broadcast

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/xtxerr/tally/internal/errors"
	"github.com/xtxerr/tally/internal/storage/types"
)

// Callback receives one sample per invocation.
type Callback func(types.Sample)

// Broadcaster is safe for concurrent use.
type Broadcaster struct {
	mu      sync.RWMutex
	enabled bool
	closed  bool
	subs    map[uuid.UUID]*subscriber
	wg      sync.WaitGroup
	logger  *slog.Logger

	// Statistics
	published atomic.Int64
	delivered atomic.Int64
	panics    atomic.Int64
}

// New creates a broadcaster. A disabled broadcaster rejects subscriptions
// and ignores Publish.
func New(enabled bool, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		enabled: enabled,
		subs:    make(map[uuid.UUID]*subscriber),
		logger:  logger,
	}
}

// Enabled reports whether real-time delivery is on.
func (b *Broadcaster) Enabled() bool {
	return b.enabled
}

// Subscribe registers fn for every sample published from now on.
func (b *Broadcaster) Subscribe(fn Callback) (*Subscription, error) {
	if !b.enabled {
		return nil, errors.ErrRealTimeDisabled
	}
	if fn == nil {
		return nil, errors.New("nil callback")
	}

	sub := &subscriber{
		id:     uuid.New(),
		fn:     fn,
		notify: make(chan struct{}, 1),
		drain:  make(chan struct{}),
		b:      b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, errors.ErrServiceStopped
	}
	b.subs[sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go sub.run()

	return &Subscription{id: sub.id, b: b}, nil
}

// Publish schedules delivery of s to all current subscribers and returns
// immediately.
func (b *Broadcaster) Publish(s types.Sample) {
	if !b.enabled {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || len(b.subs) == 0 {
		return
	}

	b.published.Add(1)
	for _, sub := range b.subs {
		sub.enqueue(s)
	}
}

// Close stops accepting subscriptions, delivers everything already queued,
// and waits for all subscriber goroutines to exit. Safe to call twice.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.wg.Wait()
		return
	}
	b.closed = true
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uuid.UUID]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.drain)
	}
	b.wg.Wait()
}

func (b *Broadcaster) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	if ok {
		close(sub.drain)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stats returns broadcaster statistics.
func (b *Broadcaster) Stats() BroadcasterStats {
	return BroadcasterStats{
		Enabled:     b.enabled,
		Subscribers: b.SubscriberCount(),
		Published:   b.published.Load(),
		Delivered:   b.delivered.Load(),
		Panics:      b.panics.Load(),
	}
}

// BroadcasterStats holds broadcaster statistics.
type BroadcasterStats struct {
	Enabled     bool
	Subscribers int
	Published   int64
	Delivered   int64
	Panics      int64
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id   uuid.UUID
	b    *Broadcaster
	once sync.Once
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id.String()
}

// Unsubscribe removes the subscription permanently and returns without
// waiting. Samples published before the call are still delivered; nothing
// published afterwards is. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.b.unsubscribe(s.id)
	})
}

// subscriber owns one ordered delivery queue.
type subscriber struct {
	id uuid.UUID
	fn Callback
	b  *Broadcaster

	mu    sync.Mutex
	queue []types.Sample

	notify chan struct{} // cap 1, coalesces wakeups
	drain  chan struct{} // unsubscribe or close: deliver the rest, then stop
}

func (s *subscriber) enqueue(sample types.Sample) {
	s.mu.Lock()
	s.queue = append(s.queue, sample)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	defer s.b.wg.Done()

	for {
		select {
		case <-s.notify:
			s.deliverPending()
		case <-s.drain:
			s.deliverPending()
			return
		}
	}
}

// deliverPending empties the queue in order.
func (s *subscriber) deliverPending() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, sample := range batch {
			s.deliver(sample)
		}
	}
}

func (s *subscriber) deliver(sample types.Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.b.panics.Add(1)
			s.b.logger.Error("subscriber panicked",
				"subscription", s.id.String(),
				"metric", sample.MetricName,
				"panic", r)
		}
	}()

	s.fn(sample)
	s.b.delivered.Add(1)
}
