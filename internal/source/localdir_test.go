// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// writeFile creates root/rel with its mtime set to baseTime plus offset seconds.
func writeFile(t *testing.T, root, rel string, offset int) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(rel), 0o600))
	touch(t, path, offset)
}

func touch(t *testing.T, path string, offset int) {
	t.Helper()
	mt := baseTime.Add(time.Duration(offset) * time.Second)
	require.NoError(t, os.Chtimes(path, mt, mt))
}

func itemPaths(items []Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Path
	}
	return out
}

func TestLocalDirPoll_CursorAndPaging(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "b.txt", 2)
	writeFile(t, root, "a.txt", 1)
	writeFile(t, root, "sub/c.md", 3)
	writeFile(t, root, "skip.bin", 4)

	l := NewLocalDir()
	ctx := context.Background()
	cfg := &LocalDirConfig{Root: root, Extensions: []string{".txt", ".md"}, Recursive: true, PageSize: 2}
	require.NoError(t, l.ValidatePull(ctx, cfg))

	first, err := l.Poll(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, itemPaths(first.Items))
	assert.True(t, first.HasMore)

	second, err := l.Poll(ctx, cfg, first.Cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/c.md"}, itemPaths(second.Items))
	assert.False(t, second.HasMore)

	idle, err := l.Poll(ctx, cfg, second.Cursor)
	require.NoError(t, err)
	assert.Empty(t, idle.Items)
	assert.Equal(t, second.Cursor, idle.Cursor, "cursor unchanged when nothing is new")

	touch(t, filepath.Join(root, "a.txt"), 10)
	changed, err := l.Poll(ctx, cfg, idle.Cursor)
	require.NoError(t, err)
	require.Len(t, changed.Items, 1)
	assert.Equal(t, "a.txt", changed.Items[0].Path)
	assert.NotEqual(t, first.Items[0].SourceID, changed.Items[0].SourceID, "rewritten file gets a new source id")
}

func TestLocalDirPoll_ItemFields(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "photo.png", 1)

	out, err := NewLocalDir().Poll(context.Background(), &LocalDirConfig{Root: root, Recursive: true}, nil)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)

	it := out.Items[0]
	assert.True(t, strings.HasPrefix(it.SourceID, "localdir:photo.png@"))
	assert.True(t, strings.HasPrefix(it.URL, "file://"))
	assert.True(t, strings.HasSuffix(it.URL, "/photo.png"))
	assert.Equal(t, "image/png", it.MimeType)
	assert.Equal(t, "photo.png", it.Title)

	c, err := it.Chunk()
	require.NoError(t, err)
	assert.Equal(t, "media_link", string(c.ContentType()))
}

func TestLocalDirPoll_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "top.txt", 1)
	writeFile(t, root, "nested/deep.txt", 2)

	out, err := NewLocalDir().Poll(context.Background(), &LocalDirConfig{Root: root}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"top.txt"}, itemPaths(out.Items))
}

func TestLocalDirValidatePull(t *testing.T) {
	l := NewLocalDir()
	ctx := context.Background()

	err := l.ValidatePull(ctx, &LocalDirConfig{Root: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	err = l.ValidatePull(ctx, &LocalDirConfig{Root: file})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	err = l.ValidatePull(ctx, &WebhookConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLocalDirPoll_BadCursor(t *testing.T) {
	_, err := NewLocalDir().Poll(context.Background(), &LocalDirConfig{Root: t.TempDir()}, Cursor("{"))
	assert.Error(t, err)
}

func TestLocalDirPush(t *testing.T) {
	root := t.TempDir()
	l := NewLocalDir()

	got := make(chan Item, 16)
	l.OnItems(func(_ context.Context, _ Endpoint, items []Item) BatchResult {
		for _, it := range items {
			got <- it
		}
		return BatchResult{Processed: len(items)}
	})

	ctx := context.Background()
	ep, err := l.SetupEndpoint(ctx, "inbox", &LocalDirConfig{Root: root, Extensions: []string{".md"}, Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, KindLocalDir, ep.Kind)
	assert.Equal(t, "inbox", ep.Source)

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.bin"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.md"), []byte("# hi"), 0o600))

	select {
	case it := <-got:
		assert.Equal(t, "hello.md", it.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no item delivered for new file")
	}

	require.NoError(t, l.TeardownEndpoint(ctx, ep.ID))
	assert.Error(t, l.TeardownEndpoint(ctx, ep.ID))
}

func TestLocalDirPush_RequiresHandler(t *testing.T) {
	_, err := NewLocalDir().SetupEndpoint(context.Background(), "x", &LocalDirConfig{Root: t.TempDir()})
	assert.Error(t, err)
}
