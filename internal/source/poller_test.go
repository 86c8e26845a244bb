// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/pkbsync/internal/cache"
)

// scriptedAdapter returns the same output on every poll and records the
// cursors it was given.
type scriptedAdapter struct {
	out     PollOutput
	err     error
	cursors []Cursor
}

func (*scriptedAdapter) Kind() string               { return "scripted" }
func (*scriptedAdapter) Capabilities() Capabilities { return Capabilities{CapabilityPull} }

func (*scriptedAdapter) CreatePullConfig(map[string]string) (AdapterConfig, error) {
	return &LocalDirConfig{Root: "/"}, nil
}

func (*scriptedAdapter) ValidatePull(context.Context, AdapterConfig) error { return nil }

func (s *scriptedAdapter) Poll(_ context.Context, _ AdapterConfig, cursor Cursor) (*PollOutput, error) {
	s.cursors = append(s.cursors, cursor)
	if s.err != nil {
		return nil, s.err
	}
	out := s.out
	return &out, nil
}

func TestPoller_LocalDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.txt", 1)
	writeFile(t, root, "two.txt", 2)
	writeFile(t, root, "three.txt", 3)

	svc := newFakeService()
	cursors := NewMemoryCursorStore()
	p := NewPoller(cursors, time.Hour, 0)
	p.Add(PullSource{
		Name:    "docs",
		Adapter: NewLocalDir(),
		Config:  &LocalDirConfig{Root: root, PageSize: 2},
		Channel: NewIngestionChannel(svc, cache.NewRecencyCache(100, time.Hour), ChannelOptions{Source: "docs", Directory: "docs"}),
	})
	assert.Equal(t, []string{"docs"}, p.Sources())

	ctx := context.Background()
	require.NoError(t, p.PollOnce(ctx))
	assert.Len(t, svc.calls(), 3, "HasMore drains every page")

	saved, err := cursors.Load("docs")
	require.NoError(t, err)
	assert.NotEmpty(t, saved)

	require.NoError(t, p.PollOnce(ctx))
	assert.Len(t, svc.calls(), 3, "nothing new after the cursor")

	writeFile(t, root, "four.txt", 4)
	require.NoError(t, p.PollOnce(ctx))
	calls := svc.calls()
	require.Len(t, calls, 4)
	assert.Equal(t, "four.txt", calls[3].path)
}

func TestPoller_KeepsCursorOnFailure(t *testing.T) {
	svc := newFakeService()
	svc.fail["bad.md"] = errors.New("rejected")
	adapter := &scriptedAdapter{out: PollOutput{Items: []Item{noteItem("bad")}, Cursor: Cursor("c1")}}

	cursors := NewMemoryCursorStore()
	p := NewPoller(cursors, time.Hour, 0)
	p.Add(PullSource{
		Name:    "flaky",
		Adapter: adapter,
		Config:  &LocalDirConfig{Root: "/"},
		Channel: NewIngestionChannel(svc, cache.NewRecencyCache(100, time.Hour), ChannelOptions{Source: "flaky", Directory: "notes"}),
	})

	ctx := context.Background()
	for i := 1; i < maxCursorRetries; i++ {
		require.Error(t, p.PollOnce(ctx))
		c, err := cursors.Load("flaky")
		require.NoError(t, err)
		assert.Nil(t, c, "cursor kept after attempt %d", i)
	}

	require.NoError(t, p.PollOnce(ctx), "gives up after the retry limit")
	c, err := cursors.Load("flaky")
	require.NoError(t, err)
	assert.Equal(t, Cursor("c1"), c)
}

func TestPoller_SourceErrorsAreJoined(t *testing.T) {
	svc := newFakeService()
	broken := &scriptedAdapter{err: errors.New("remote down")}
	healthy := &scriptedAdapter{out: PollOutput{Items: []Item{noteItem("ok")}, Cursor: Cursor("h1")}}
	seen := cache.NewRecencyCache(100, time.Hour)

	cursors := NewMemoryCursorStore()
	p := NewPoller(cursors, time.Hour, 100)
	p.Add(PullSource{Name: "broken", Adapter: broken, Channel: NewIngestionChannel(svc, seen, ChannelOptions{Source: "broken", Directory: "a"})})
	p.Add(PullSource{Name: "healthy", Adapter: healthy, Channel: NewIngestionChannel(svc, seen, ChannelOptions{Source: "healthy", Directory: "b"})})

	err := p.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source broken")
	assert.Len(t, svc.calls(), 1, "healthy source still polled")

	c, _ := cursors.Load("healthy")
	assert.Equal(t, Cursor("h1"), c)
}

func TestPoller_ServeStopsOnCancel(t *testing.T) {
	p := NewPoller(NewMemoryCursorStore(), 10*time.Millisecond, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, "source-poller", p.String())
}

func TestCursorStores(t *testing.T) {
	badgerStore, err := OpenCursorStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	diskStore, err := OpenCursorStore(t.TempDir())
	require.NoError(t, err)

	stores := map[string]CursorStore{
		"memory":      NewMemoryCursorStore(),
		"badger":      badgerStore,
		"badger-disk": diskStore,
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			c, err := s.Load("src")
			require.NoError(t, err)
			assert.Nil(t, c)

			require.NoError(t, s.Save("src", Cursor(`{"t":1}`)))
			require.NoError(t, s.Save("other", Cursor("x")))

			c, err = s.Load("src")
			require.NoError(t, err)
			assert.Equal(t, Cursor(`{"t":1}`), c)
		})
	}
	require.NoError(t, diskStore.Close())
}
