// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/pkbsync/internal/cache"
	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/node"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

type addCall struct {
	dir   pkb.DirectoryID
	path  string
	chunk pkb.Chunk
}

// fakeService records commits. Paths listed in fail are rejected.
type fakeService struct {
	mu    sync.Mutex
	added []addCall
	fail  map[string]error
}

func newFakeService() *fakeService {
	return &fakeService{fail: make(map[string]error)}
}

func (f *fakeService) AddChunk(ctx context.Context, dir pkb.DirectoryID, path string, c pkb.Chunk) (*pkb.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[path]; err != nil {
		return nil, err
	}
	f.added = append(f.added, addCall{dir: dir, path: path, chunk: c})
	return &pkb.Entry{Directory: dir, Path: path, Chunk: c}, nil
}

func (f *fakeService) CreateRepository(_ context.Context, name string) (pkb.DirectoryID, error) {
	return pkb.DirectoryID(name), nil
}

func (f *fakeService) calls() []addCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]addCall(nil), f.added...)
}

func noteItem(id string) Item {
	return Item{SourceID: id, Path: id + ".md", Title: id, Body: "body of " + id}
}

func TestIngest_DuplicateWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seen := cache.NewRecencyCache(100, time.Hour).WithClock(func() time.Time { return now })
	svc := newFakeService()
	ch := NewIngestionChannel(svc, seen, ChannelOptions{Source: "test", Directory: "notes"})
	ctx := context.Background()

	entry, err := ch.Ingest(ctx, noteItem("a"))
	require.NoError(t, err)
	assert.Equal(t, pkb.DirectoryID("notes"), entry.Directory)

	_, err = ch.Ingest(ctx, noteItem("a"))
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Len(t, svc.calls(), 1)

	now = now.Add(time.Hour + time.Second)
	_, err = ch.Ingest(ctx, noteItem("a"))
	require.NoError(t, err, "item outside the window is ingested again")
	assert.Len(t, svc.calls(), 2)
}

func TestIngest_FailureIsNotCached(t *testing.T) {
	svc := newFakeService()
	svc.fail["a.md"] = errors.New("disk full")
	ch := NewIngestionChannel(svc, cache.NewRecencyCache(10, time.Hour), ChannelOptions{Source: "test", Directory: "notes"})

	_, err := ch.Ingest(context.Background(), noteItem("a"))
	require.Error(t, err)

	delete(svc.fail, "a.md")
	_, err = ch.Ingest(context.Background(), noteItem("a"))
	require.NoError(t, err)
}

func TestIngest_RejectsEmptyItem(t *testing.T) {
	ch := NewIngestionChannel(newFakeService(), cache.NewRecencyCache(10, time.Hour), ChannelOptions{Directory: "notes"})

	_, err := ch.Ingest(context.Background(), Item{Path: "x"})
	assert.Error(t, err)

	_, err = ch.Ingest(context.Background(), Item{SourceID: "x"})
	assert.Error(t, err, "item without content")
}

func TestIngestBatch_Deduplicates(t *testing.T) {
	seen := cache.NewRecencyCache(100, time.Hour)
	seen.Mark("old")
	svc := newFakeService()
	ch := NewIngestionChannel(svc, seen, ChannelOptions{Source: "test", Directory: "notes", GroupSize: 2})

	res := ch.IngestBatch(context.Background(), []Item{
		noteItem("a"), noteItem("old"), noteItem("b"), noteItem("a"), noteItem("c"),
	})

	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 2, res.SkippedDuplicate)
	assert.Empty(t, res.Failed)
	assert.Len(t, svc.calls(), 3)

	again := ch.IngestBatch(context.Background(), []Item{noteItem("a"), noteItem("b"), noteItem("c")})
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 3, again.SkippedDuplicate)
}

func TestIngestBatch_RecordsFailures(t *testing.T) {
	svc := newFakeService()
	svc.fail["bad.md"] = errors.New("rejected")
	ch := NewIngestionChannel(svc, cache.NewRecencyCache(100, time.Hour), ChannelOptions{Source: "test", Directory: "notes"})

	res := ch.IngestBatch(context.Background(), []Item{
		noteItem("good"), noteItem("bad"), {SourceID: "empty"}, {Title: "no id"},
	})

	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 0, res.SkippedDuplicate)
	require.Len(t, res.Failed, 3)

	byID := make(map[string]string)
	for _, f := range res.Failed {
		byID[f.SourceID] = f.Reason
	}
	assert.Contains(t, byID["bad"], "rejected")
	assert.Contains(t, byID, "empty")
	assert.Contains(t, byID, "")
}

func TestIngestBatch_CancelledContext(t *testing.T) {
	svc := newFakeService()
	ch := NewIngestionChannel(svc, cache.NewRecencyCache(100, time.Hour), ChannelOptions{Source: "test", Directory: "notes"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := ch.IngestBatch(ctx, []Item{noteItem("a"), noteItem("b")})
	assert.Equal(t, 0, res.Processed)
	assert.Len(t, res.Failed, 2)
	assert.Empty(t, svc.calls())
}

func TestIngestBatch_IntoService(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	svc, err := pkb.Open(ctx, pkb.Options{BasePath: t.TempDir(), DeviceAlias: "laptop", InMemory: true},
		node.NewNetwork().Node("n1"), bus)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	dir, err := svc.CreateRepository(ctx, "media")
	require.NoError(t, err)

	ch := NewIngestionChannel(svc, cache.NewRecencyCache(100, time.Hour), ChannelOptions{Source: "camera", Directory: dir})
	item := Item{SourceID: "img-1", URL: "https://example.com/img-1.jpg", MimeType: "image/jpeg", Title: "Sunset"}

	first := ch.IngestBatch(ctx, []Item{item})
	assert.Equal(t, BatchResult{Processed: 1}, first)
	second := ch.IngestBatch(ctx, []Item{item})
	assert.Equal(t, BatchResult{SkippedDuplicate: 1}, second)

	entries, err := svc.ListEntries(ctx, dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	link, ok := entries[0].Chunk.(pkb.MediaLink)
	require.True(t, ok)
	assert.Equal(t, "Sunset", link.Title)
}

func TestItemChunk(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want pkb.ContentType
	}{
		{"structured", Item{SourceID: "1", DbType: "person", Payload: json.RawMessage(`{"name":"Ada"}`), URL: "https://x"}, pkb.ContentStructuredData},
		{"media", Item{SourceID: "2", URL: "https://example.com/a.png"}, pkb.ContentMediaLink},
		{"note", Item{SourceID: "3", Body: "hello"}, pkb.ContentNote},
		{"titled note", Item{SourceID: "4", Title: "todo"}, pkb.ContentNote},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := tt.item.Chunk()
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.ContentType())
		})
	}

	_, err := Item{SourceID: "5"}.Chunk()
	assert.Error(t, err)
}
