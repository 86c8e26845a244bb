// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/logging"
)

// ErrSubscriptionClosed is returned by Hub.Serve when the upstream
// subscriber closed its message channel.
var ErrSubscriptionClosed = errors.New("event stream subscription closed")

const registerTimeout = 5 * time.Second

// Hub relays forwarded PKB events to websocket clients. It subscribes to
// the forwarder topic on a watermill subscriber, so it never holds an
// event bus subscription of its own.
type Hub struct {
	sub    message.Subscriber
	topic  string
	logger zerolog.Logger

	upgrader websocket.Upgrader
	register chan *Client
	running  atomic.Bool

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// NewHub creates a hub reading topic from sub.
func NewHub(sub message.Subscriber, topic string) *Hub {
	return &Hub{
		sub:      sub,
		topic:    topic,
		logger:   logging.WithComponent("event-stream"),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		register: make(chan *Client),
		clients:  make(map[*Client]struct{}),
	}
}

// Serve relays messages until ctx ends or the subscription closes.
//
// Pending registrations are drained before the next message is broadcast,
// so a client registered before a message was published receives it.
// Clients unregister themselves directly.
func (h *Hub) Serve(ctx context.Context) error {
	msgs, err := h.sub.Subscribe(ctx, h.topic)
	if err != nil {
		return err
	}
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.closeAllClients()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Int("clients_closed", h.ClientCount()).Msg("event stream stopped")
			return ctx.Err()
		default:
		}

		select {
		case c := <-h.register:
			h.add(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.logger.Info().Int("clients_closed", h.ClientCount()).Msg("event stream stopped")
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case msg, ok := <-msgs:
			if !ok {
				// The subscriber also closes the channel when ctx ends.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			h.broadcast(eventbus.Kind(msg.Metadata.Get(eventbus.MetadataKind)), msg.Payload)
			msg.Ack()
		}
	}
}

func (h *Hub) String() string { return "event-stream" }

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a websocket. The optional kinds query
// parameter is a comma separated list of event kinds to receive.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.running.Load() {
		respondError(w, http.StatusServiceUnavailable, CodeUnavailable, "event stream not running", nil)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(h, conn, parseKinds(r.URL.Query().Get("kinds")))
	select {
	case h.register <- c:
		c.start()
	case <-time.After(registerTimeout):
		// The hub stopped between the running check and registration.
		_ = conn.Close()
	}
}

func parseKinds(raw string) map[eventbus.Kind]struct{} {
	if raw == "" {
		return nil
	}
	kinds := make(map[eventbus.Kind]struct{})
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[eventbus.Kind(k)] = struct{}{}
		}
	}
	return kinds
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug().Int("total_clients", n).Msg("event stream client connected")
}

// remove is safe to call for a client the hub already dropped.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.logger.Debug().Int("total_clients", n).Msg("event stream client disconnected")
	}
}

// sortedClients returns clients in connection order. Callers hold mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// broadcast delivers payload to every interested client. A client whose
// send buffer is full is dropped rather than slowing everyone else down.
func (h *Hub) broadcast(kind eventbus.Kind, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.sortedClients() {
		if !c.wants(kind) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			h.logger.Warn().Uint64("client", c.id).Msg("event stream client too slow, disconnecting")
			close(c.send)
			delete(h.clients, c)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sortedClients() {
		close(c.send)
		delete(h.clients, c)
	}
}
