// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/tomtom215/pkbsync/internal/metrics"
)

// Kind is the routing tag of an event type. Each event type returns a single
// constant Kind from its value receiver, so the tag is known from the zero value.
type Kind string

// Event is implemented by every type carried on the bus.
type Event interface {
	EventKind() Kind
}

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("eventbus: closed")

// DefaultBuffer is used when Subscribe is given a non-positive buffer.
const DefaultBuffer = 64

type deliverResult int

const (
	delivered deliverResult = iota
	skipped
	full
	gone
	cancelled
)

// subscriber is the type-erased half of a Subscription. Its channel is only
// sent to under the bus read lock and only closed under the write lock.
type subscriber struct {
	id   uint64
	kind Kind
	// send delivers ev. When wait is set it blocks until delivery, the
	// subscriber disconnects, the bus closes, or ctx ends.
	send  func(ctx context.Context, ev Event, wait bool) deliverResult
	close func()

	done     chan struct{}
	doneOnce sync.Once
}

func (s *subscriber) disconnect() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *subscriber) disconnected() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Bus is an in-process publish/subscribe fabric with per-type routing.
//
// Delivery has no replay: a subscriber sees only events emitted after it
// subscribed. Events from one emitter reach each subscriber in emission order.
type Bus struct {
	mu     sync.RWMutex
	routes map[Kind][]*subscriber
	nextID atomic.Uint64

	closing   chan struct{}
	closeOnce sync.Once
	closed    bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		routes:  make(map[Kind][]*subscriber),
		closing: make(chan struct{}),
	}
}

// Subscription receives events of one type.
type Subscription[T Event] struct {
	bus *Bus
	sub *subscriber
	ch  chan T
}

// C returns the receive channel. It is closed by Unsubscribe and by Bus.Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Unsubscribe disconnects the subscription and closes its channel.
// Emitters blocked on this subscriber are released.
func (s *Subscription[T]) Unsubscribe() {
	s.sub.disconnect()
	s.bus.prune(s.sub.kind)
}

// Subscribe registers a new receiver for events of type T.
// A subscription on a closed bus returns an already closed channel.
func Subscribe[T Event](b *Bus, buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	var zero T
	kind := zero.EventKind()

	ch := make(chan T, buffer)
	sub := &subscriber{
		id:   b.nextID.Add(1),
		kind: kind,
		done: make(chan struct{}),
	}
	sub.send = func(ctx context.Context, ev Event, wait bool) deliverResult {
		typed, ok := ev.(T)
		if !ok {
			// Another type claiming the same kind is never delivered here.
			return skipped
		}
		return deliver(ctx, b, sub, ch, typed, wait)
	}
	var closeOnce sync.Once
	sub.close = func() { closeOnce.Do(func() { close(ch) }) }

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.disconnect()
		sub.close()
		return &Subscription[T]{bus: b, sub: sub, ch: ch}
	}
	b.routes[kind] = append(b.routes[kind], sub)
	b.mu.Unlock()

	return &Subscription[T]{bus: b, sub: sub, ch: ch}
}

// deliver sends v on ch for sub. Callers hold the bus read lock.
func deliver[T any](ctx context.Context, b *Bus, sub *subscriber, ch chan T, v T, wait bool) deliverResult {
	if !wait {
		select {
		case <-sub.done:
			return gone
		default:
		}
		select {
		case ch <- v:
			return delivered
		default:
			return full
		}
	}
	select {
	case ch <- v:
		return delivered
	case <-sub.done:
		return gone
	case <-b.closing:
		return gone
	case <-ctx.Done():
		return cancelled
	}
}

// Stream receives events of several kinds on one channel. Events sent by
// one emitter arrive in emission order across kinds, which separate
// Subscriptions read with a select cannot guarantee.
type Stream struct {
	bus   *Bus
	subs  []*subscriber
	ch    chan Event
	close func()
}

// C returns the receive channel. It is closed by Unsubscribe and by Bus.Close.
func (s *Stream) C() <-chan Event {
	return s.ch
}

// Unsubscribe disconnects every kind of the stream and closes its channel.
func (s *Stream) Unsubscribe() {
	for _, sub := range s.subs {
		sub.disconnect()
	}
	// Every kind is disconnected before any prune closes the shared channel.
	for _, sub := range s.subs {
		s.bus.prune(sub.kind)
	}
	if len(s.subs) == 0 {
		s.close()
	}
}

// SubscribeKinds registers one receiver for every listed kind. Duplicate
// kinds are ignored. With no kinds the stream is returned closed.
func SubscribeKinds(b *Bus, buffer int, kinds ...Kind) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	var closeOnce sync.Once
	s := &Stream{bus: b, ch: ch}
	s.close = func() { closeOnce.Do(func() { close(ch) }) }

	seen := make(map[Kind]bool, len(kinds))
	for _, kind := range kinds {
		if seen[kind] {
			continue
		}
		seen[kind] = true
		sub := &subscriber{
			id:    b.nextID.Add(1),
			kind:  kind,
			done:  make(chan struct{}),
			close: s.close,
		}
		sub.send = func(ctx context.Context, ev Event, wait bool) deliverResult {
			return deliver(ctx, b, sub, ch, ev, wait)
		}
		s.subs = append(s.subs, sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(s.subs) == 0 {
		for _, sub := range s.subs {
			sub.disconnect()
		}
		s.close()
		return s
	}
	for _, sub := range s.subs {
		b.routes[sub.kind] = append(b.routes[sub.kind], sub)
	}
	return s
}

// Emit delivers ev to every current subscriber of its type, waiting for
// room in each subscriber's buffer. Disconnected subscribers are skipped and
// pruned. It returns ctx.Err() if ctx ends before every delivery completes,
// and ErrClosed once the bus is closed.
func Emit[T Event](ctx context.Context, b *Bus, ev T) error {
	if ctx == nil {
		ctx = context.Background()
	}
	kind := ev.EventKind()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	var stale bool
	for _, sub := range b.routes[kind] {
		if sub.disconnected() {
			stale = true
			continue
		}
		switch sub.send(ctx, ev, true) {
		case gone:
			stale = true
		case cancelled:
			b.mu.RUnlock()
			return ctx.Err()
		}
	}
	b.mu.RUnlock()

	if stale {
		b.prune(kind)
	}
	return nil
}

// TryEmit delivers ev without blocking. Subscribers whose buffer is full miss
// the event. It returns the number of subscribers that received it.
func TryEmit[T Event](b *Bus, ev T) int {
	kind := ev.EventKind()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0
	}
	var (
		count int
		stale bool
	)
	for _, sub := range b.routes[kind] {
		switch sub.send(context.Background(), ev, false) {
		case delivered:
			count++
		case full:
			metrics.RecordEventDropped(string(kind))
		case gone:
			stale = true
		}
	}
	b.mu.RUnlock()

	if stale {
		b.prune(kind)
	}
	return count
}

// SubscriberCount returns the number of live subscribers for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, sub := range b.routes[kind] {
		if !sub.disconnected() {
			n++
		}
	}
	return n
}

// Close disconnects every subscriber and closes their channels. Blocked
// emitters return. Close is idempotent.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		defer b.mu.Unlock()
		b.closed = true
		for kind, subs := range b.routes {
			for _, sub := range subs {
				sub.disconnect()
				sub.close()
			}
			delete(b.routes, kind)
		}
	})
}

// prune removes disconnected subscribers of kind and closes their channels.
func (b *Bus) prune(kind Kind) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.routes[kind]
	kept := subs[:0]
	for _, sub := range subs {
		if sub.disconnected() {
			sub.close()
			continue
		}
		kept = append(kept, sub)
	}
	for i := len(kept); i < len(subs); i++ {
		subs[i] = nil
	}
	if len(kept) == 0 {
		delete(b.routes, kind)
		return
	}
	b.routes[kind] = kept
}
