// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/logging"
)

// localCursor orders files by modification time, then relative path.
type localCursor struct {
	ModNanos int64  `json:"t"`
	Path     string `json:"p"`
}

func (c localCursor) before(modNanos int64, path string) bool {
	if modNanos != c.ModNanos {
		return c.ModNanos < modNanos
	}
	return c.Path < path
}

type localFile struct {
	rel      string
	abs      string
	modNanos int64
	size     int64
}

// LocalDir ingests files from a directory tree as media links. Pull mode
// walks the tree in modification order; push mode watches it with fsnotify.
type LocalDir struct {
	logger  zerolog.Logger
	handler ItemsHandler
	watches *xsync.MapOf[string, *localWatch]
}

var (
	_ PullAdapter = (*LocalDir)(nil)
	_ PushAdapter = (*LocalDir)(nil)
)

func NewLocalDir() *LocalDir {
	return &LocalDir{
		logger:  logging.WithComponent("source.localdir"),
		watches: xsync.NewMapOf[string, *localWatch](),
	}
}

func (*LocalDir) Kind() string { return KindLocalDir }

func (*LocalDir) Capabilities() Capabilities {
	return Capabilities{CapabilityPull, CapabilityPush, CapabilityCursor}
}

func (*LocalDir) CreatePullConfig(params map[string]string) (AdapterConfig, error) {
	return localDirConfigFromParams(params)
}

func (*LocalDir) CreatePushConfig(params map[string]string) (AdapterConfig, error) {
	return localDirConfigFromParams(params)
}

func asLocalDirConfig(cfg AdapterConfig) (*LocalDirConfig, error) {
	c, ok := cfg.(*LocalDirConfig)
	if !ok {
		return nil, fmt.Errorf("%w: localdir adapter given %T", ErrInvalidConfig, cfg)
	}
	return c, nil
}

// ValidatePull checks that Root is a readable directory.
func (*LocalDir) ValidatePull(_ context.Context, cfg AdapterConfig) error {
	c, err := asLocalDirConfig(cfg)
	if err != nil {
		return err
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("%w: root: %v", ErrInvalidConfig, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: root %s is not a directory", ErrInvalidConfig, c.Root)
	}
	return nil
}

// Poll returns files modified after cursor, oldest first.
func (l *LocalDir) Poll(ctx context.Context, cfg AdapterConfig, cursor Cursor) (*PollOutput, error) {
	c, err := asLocalDirConfig(cfg)
	if err != nil {
		return nil, err
	}
	var pos localCursor
	if len(cursor) > 0 {
		if err := json.Unmarshal(cursor, &pos); err != nil {
			return nil, fmt.Errorf("decode localdir cursor: %w", err)
		}
	}

	files, err := scanDir(ctx, c)
	if err != nil {
		return nil, err
	}

	out := &PollOutput{Cursor: cursor}
	for _, f := range files {
		if len(cursor) > 0 && !pos.before(f.modNanos, f.rel) {
			continue
		}
		if c.PageSize > 0 && len(out.Items) == c.PageSize {
			out.HasMore = true
			break
		}
		out.Items = append(out.Items, fileItem(f))
		pos = localCursor{ModNanos: f.modNanos, Path: f.rel}
	}
	if len(out.Items) > 0 {
		next, err := json.Marshal(pos)
		if err != nil {
			return nil, err
		}
		out.Cursor = next
	}
	return out, nil
}

func scanDir(ctx context.Context, c *LocalDirConfig) ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != c.Root && !c.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.accepts(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		files = append(files, localFile{
			rel:      filepath.ToSlash(rel),
			abs:      path,
			modNanos: info.ModTime().UnixNano(),
			size:     info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", c.Root, err)
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].modNanos != files[j].modNanos {
			return files[i].modNanos < files[j].modNanos
		}
		return files[i].rel < files[j].rel
	})
	return files, nil
}

func fileItem(f localFile) Item {
	abs, err := filepath.Abs(f.abs)
	if err != nil {
		abs = f.abs
	}
	return Item{
		// A rewritten file is new content.
		SourceID:    "localdir:" + f.rel + "@" + strconv.FormatInt(f.modNanos, 10),
		Path:        f.rel,
		URL:         "file://" + filepath.ToSlash(abs),
		MimeType:    mime.TypeByExtension(filepath.Ext(f.rel)),
		Title:       filepath.Base(f.rel),
		Description: strconv.FormatInt(f.size, 10) + " bytes",
	}
}

// OnItems implements PushAdapter.
func (l *LocalDir) OnItems(fn ItemsHandler) { l.handler = fn }

type localWatch struct {
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// SetupEndpoint starts watching Root. New and rewritten files are handed to
// the registered handler one at a time.
func (l *LocalDir) SetupEndpoint(_ context.Context, source string, cfg AdapterConfig) (Endpoint, error) {
	c, err := asLocalDirConfig(cfg)
	if err != nil {
		return Endpoint{}, err
	}
	if l.handler == nil {
		return Endpoint{}, errors.New("localdir: OnItems must be called before SetupEndpoint")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return Endpoint{}, fmt.Errorf("create watcher: %w", err)
	}
	if err := addWatchTree(watcher, c.Root, c.Recursive); err != nil {
		_ = watcher.Close()
		return Endpoint{}, err
	}

	ep := Endpoint{ID: uuid.NewString(), Kind: KindLocalDir, Source: source, Path: c.Root}
	ctx, cancel := context.WithCancel(context.Background())
	w := &localWatch{watcher: watcher, cancel: cancel, done: make(chan struct{})}
	l.watches.Store(ep.ID, w)

	go l.watch(ctx, ep, c, w)
	l.logger.Info().Str("source", source).Str("root", c.Root).Msg("Watching directory")
	return ep, nil
}

func addWatchTree(w *fsnotify.Watcher, root string, recursive bool) error {
	if !recursive {
		return w.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (l *LocalDir) watch(ctx context.Context, ep Endpoint, c *LocalDirConfig, w *localWatch) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn().Err(err).Str("source", ep.Source).Msg("Watcher error")
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if c.Recursive && ev.Has(fsnotify.Create) {
					if err := addWatchTree(w.watcher, ev.Name, true); err != nil {
						l.logger.Warn().Err(err).Str("path", ev.Name).Msg("Failed to watch new directory")
					}
				}
				continue
			}
			if !info.Mode().IsRegular() || !c.accepts(info.Name()) {
				continue
			}
			rel, err := filepath.Rel(c.Root, ev.Name)
			if err != nil {
				continue
			}
			item := fileItem(localFile{rel: filepath.ToSlash(rel), abs: ev.Name, modNanos: info.ModTime().UnixNano(), size: info.Size()})
			res := l.handler(ctx, ep, []Item{item})
			if len(res.Failed) > 0 {
				l.logger.Warn().Str("path", rel).Str("reason", res.Failed[0].Reason).Msg("Watched file not ingested")
			}
		}
	}
}

// TeardownEndpoint stops the watcher and waits for it.
func (l *LocalDir) TeardownEndpoint(_ context.Context, id string) error {
	w, ok := l.watches.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("localdir endpoint %s: not found", id)
	}
	w.cancel()
	err := w.watcher.Close()
	<-w.done
	return err
}
