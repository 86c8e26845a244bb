// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

const testTopic = "pkb.events"

type hubFixture struct {
	pubsub *gochannel.GoChannel
	hub    *Hub
	srv    *httptest.Server
	cancel context.CancelFunc
	done   chan error
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	// Blocking publishes keep delivery order deterministic.
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16, BlockPublishUntilSubscriberAck: true},
		logging.NewWatermillAdapter())
	hub := NewHub(pubsub, testTopic)

	ctx, cancel := context.WithCancel(context.Background())
	f := &hubFixture{pubsub: pubsub, hub: hub, cancel: cancel, done: make(chan error, 1)}
	go func() { f.done <- hub.Serve(ctx) }()
	require.Eventually(t, hub.running.Load, time.Second, 5*time.Millisecond)

	f.srv = httptest.NewServer(NewRouter(nil, Deps{PKB: stubPKB{}, Events: hub}))
	t.Cleanup(func() {
		cancel()
		f.srv.Close()
		_ = pubsub.Close()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	before := f.hub.ClientCount()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/v1/events" + query
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool { return f.hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func (f *hubFixture) publish(t *testing.T, ev eventbus.Event) {
	t.Helper()
	body, err := json.Marshal(ev)
	require.NoError(t, err)
	payload, err := json.Marshal(eventbus.Envelope{Kind: ev.EventKind(), EmittedAt: time.Now().UTC(), Event: body})
	require.NoError(t, err)

	msg := message.NewMessage("m-"+string(ev.EventKind()), payload)
	msg.Metadata.Set(eventbus.MetadataKind, string(ev.EventKind()))
	require.NoError(t, f.pubsub.Publish(testTopic, msg))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) eventbus.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env eventbus.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_RelaysEvents(t *testing.T) {
	f := newHubFixture(t)
	a := f.dial(t, "")
	b := f.dial(t, "")

	f.publish(t, pkb.SyncStarted{Directory: "notes", RunID: "run-1"})

	for _, conn := range []*websocket.Conn{a, b} {
		env := readEnvelope(t, conn)
		assert.Equal(t, pkb.KindSyncStarted, env.Kind)

		var ev pkb.SyncStarted
		require.NoError(t, json.Unmarshal(env.Event, &ev))
		assert.Equal(t, "run-1", ev.RunID)
	}
}

func TestHub_KindFilter(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "?kinds=pkb.sync_failed,%20pkb.sync_completed")

	f.publish(t, pkb.SyncStarted{Directory: "notes", RunID: "run-1"})
	f.publish(t, pkb.SyncFailed{Directory: "notes", RunID: "run-1", Reason: "all remotes failed"})

	env := readEnvelope(t, conn)
	assert.Equal(t, pkb.KindSyncFailed, env.Kind)
}

func TestHub_ClientDisconnect(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	f := newHubFixture(t)
	conn := f.dial(t, "")

	f.cancel()
	select {
	case err := <-f.done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "err = %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.Zero(t, f.hub.ClientCount())
}

func TestHub_NotRunning(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logging.NewWatermillAdapter())
	t.Cleanup(func() { _ = pubsub.Close() })
	h := NewRouter(nil, Deps{PKB: stubPKB{}, Events: NewHub(pubsub, testTopic)})

	rec, env := do(t, h, http.MethodGet, "/api/v1/events")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeUnavailable, env.Error.Code)
}

func TestHub_SubscriptionClosed(t *testing.T) {
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, logging.NewWatermillAdapter())
	hub := NewHub(pubsub, testTopic)

	done := make(chan error, 1)
	go func() { done <- hub.Serve(context.Background()) }()
	require.Eventually(t, hub.running.Load, time.Second, 5*time.Millisecond)

	require.NoError(t, pubsub.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSubscriptionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.False(t, hub.running.Load())
}

func TestParseKinds(t *testing.T) {
	assert.Nil(t, parseKinds(""))
	assert.Equal(t, map[eventbus.Kind]struct{}{"a": {}, "b": {}}, parseKinds("a, b,,"))
}
