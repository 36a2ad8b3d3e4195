// Package statebus fans state snapshots out to observers on other goroutines.
//
// Publish never blocks. Channel subscribers (DropNew) lose values they are
// too slow to take; latest-value subscribers (DropOld) always observe the
// most recent snapshot.
package statebus

import (
	"context"
	"sync"
	"sync/atomic"
)

type subscriberHolder[T any] struct {
	id     string
	policy DropPolicy
	stats  *SubscriberStats

	// For DropNew policy
	ch chan<- T

	// For DropOld policy
	holder *latestHolder[T]
}

// Bus distributes values of type T to subscribers
type Bus[T any] struct {
	mu             sync.RWMutex
	subscribers    map[string]*subscriberHolder[T]
	totalPublished uint64
	closed         bool
}

// New creates an empty bus
func New[T any]() *Bus[T] {
	return &Bus[T]{
		subscribers: make(map[string]*subscriberHolder[T]),
	}
}

// Subscribe registers a channel with DropNew policy
func (b *Bus[T]) Subscribe(id string, ch chan<- T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	if ch == nil {
		return ErrNilChannel
	}

	b.subscribers[id] = &subscriberHolder[T]{
		id:     id,
		policy: DropNew,
		stats:  &SubscriberStats{},
		ch:     ch,
	}

	return nil
}

// SubscribeLatest registers a subscriber with DropOld policy
func (b *Bus[T]) SubscribeLatest(id string) (Receiver[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	holder := &subscriberHolder[T]{
		id:     id,
		policy: DropOld,
		stats:  &SubscriberStats{},
		holder: newLatestHolder[T](),
	}

	b.subscribers[id] = holder
	return holder.holder, nil
}

// Publish distributes value to all subscribers
func (b *Bus[T]) Publish(value T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	atomic.AddUint64(&b.totalPublished, 1)

	for _, holder := range b.subscribers {
		switch holder.policy {
		case DropNew:
			select {
			case holder.ch <- value:
				atomic.AddUint64(&holder.stats.Sent, 1)
			default:
				atomic.AddUint64(&holder.stats.Dropped, 1)
			}

		case DropOld:
			if err := holder.holder.set(value); err == nil {
				atomic.AddUint64(&holder.stats.Sent, 1)
			}
		}
	}
}

// Unsubscribe removes a subscriber and closes its receiver, if any
func (b *Bus[T]) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	holder, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}

	if holder.policy == DropOld && holder.holder != nil {
		holder.holder.Close()
	}

	delete(b.subscribers, id)
	return nil
}

// Stats returns a snapshot of bus and subscriber counters
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := Stats{
		TotalPublished: atomic.LoadUint64(&b.totalPublished),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, holder := range b.subscribers {
		stats.Subscribers[id] = SubscriberStats{
			Sent:    atomic.LoadUint64(&holder.stats.Sent),
			Dropped: atomic.LoadUint64(&holder.stats.Dropped),
		}
	}
	return stats
}

// Close shuts down the bus and all latest-value receivers. Channels passed
// to Subscribe are owned by their subscribers and are not closed.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true

	for _, holder := range b.subscribers {
		if holder.policy == DropOld && holder.holder != nil {
			holder.holder.Close()
		}
	}

	b.subscribers = nil
}

// latestHolder implements Receiver for the DropOld policy.
// changed is closed and replaced on every set, waking all waiters.
type latestHolder[T any] struct {
	mu      sync.RWMutex
	value   T
	has     bool
	seq     uint64
	changed chan struct{}
	closed  bool
}

func newLatestHolder[T any]() *latestHolder[T] {
	return &latestHolder[T]{changed: make(chan struct{})}
}

func (h *latestHolder[T]) set(value T) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrReceiverClosed
	}

	h.value = value
	h.has = true
	h.seq++
	close(h.changed)
	h.changed = make(chan struct{})
	return nil
}

func (h *latestHolder[T]) Receive() T {
	v, _, _ := h.Next(context.Background(), 0)
	return v
}

func (h *latestHolder[T]) TryReceive() (T, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.value, h.has
}

func (h *latestHolder[T]) Next(ctx context.Context, after uint64) (T, uint64, error) {
	for {
		h.mu.RLock()
		if h.closed {
			h.mu.RUnlock()
			var zero T
			return zero, 0, ErrReceiverClosed
		}
		if h.has && h.seq > after {
			v, seq := h.value, h.seq
			h.mu.RUnlock()
			return v, seq, nil
		}
		changed := h.changed
		h.mu.RUnlock()

		select {
		case <-changed:
		case <-ctx.Done():
			var zero T
			return zero, 0, ctx.Err()
		}
	}
}

func (h *latestHolder[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.changed)
}
