// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// MetadataKind is the watermill metadata key carrying the event kind.
const MetadataKind = "pkb_kind"

// Envelope is the JSON payload of a forwarded event.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	EmittedAt time.Time       `json:"emitted_at"`
	Event     json.RawMessage `json:"event"`
}

type forwardRoute struct {
	kind Kind
	run  func(ctx context.Context) error
}

// Forwarder republishes bus events to a watermill publisher so observers
// outside the process (or outside the core, like the websocket stream) can
// follow them without holding a bus subscription.
type Forwarder struct {
	bus    *Bus
	pub    message.Publisher
	topic  string
	buffer int
	logger zerolog.Logger

	mu     sync.Mutex
	routes []forwardRoute
}

// NewForwarder creates a forwarder publishing to topic.
func NewForwarder(bus *Bus, pub message.Publisher, topic string, buffer int) *Forwarder {
	return &Forwarder{
		bus:    bus,
		pub:    pub,
		topic:  topic,
		buffer: buffer,
		logger: logging.WithComponent("event-forwarder"),
	}
}

// Forward registers event type T with f. Call before Serve.
func Forward[T Event](f *Forwarder) {
	var zero T
	kind := zero.EventKind()

	run := func(ctx context.Context) error {
		sub := Subscribe[T](f.bus, f.buffer)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case ev, ok := <-sub.C():
				if !ok {
					return ErrClosed
				}
				err := f.publish(kind, ev)
				metrics.RecordEventForwarded(string(kind), err)
				if err != nil {
					f.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to forward event")
				}
			}
		}
	}

	f.mu.Lock()
	f.routes = append(f.routes, forwardRoute{kind: kind, run: run})
	f.mu.Unlock()
}

func (f *Forwarder) publish(kind Kind, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	payload, err := json.Marshal(Envelope{Kind: kind, EmittedAt: time.Now().UTC(), Event: body})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataKind, string(kind))
	return f.pub.Publish(f.topic, msg)
}

// Kinds returns the registered event kinds.
func (f *Forwarder) Kinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()

	kinds := make([]Kind, len(f.routes))
	for i, r := range f.routes {
		kinds[i] = r.kind
	}
	return kinds
}

// Serve forwards events until ctx ends or the bus closes. It returns
// ctx.Err() on cancellation and ErrClosed when the bus was closed.
func (f *Forwarder) Serve(ctx context.Context) error {
	f.mu.Lock()
	routes := append([]forwardRoute(nil), f.routes...)
	f.mu.Unlock()

	if len(routes) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	for _, r := range routes {
		wg.Add(1)
		go func(r forwardRoute) {
			defer wg.Done()
			_ = r.run(ctx)
		}(r)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrClosed
}

// String implements fmt.Stringer for supervisor logs.
func (f *Forwarder) String() string {
	return "event-forwarder"
}
