// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package indexer keeps the relational projection in step with the
// knowledge base by turning PKB events into database actor commands.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// Store is the subset of dbactor.Handle the indexer writes through.
type Store interface {
	UpsertEntry(ctx context.Context, row dbactor.EntryRow) error
	DeleteEntry(ctx context.Context, directory, path string) (bool, error)
	RecordSync(ctx context.Context, entry dbactor.SyncLogRow) error
}

// Sync log event names.
const (
	SyncEventStarted   = "started"
	SyncEventCompleted = "completed"
	SyncEventFailed    = "failed"
)

// Kinds are the events the indexer consumes, all on one stream so that
// changes to a path are applied in the order they were committed.
var Kinds = []eventbus.Kind{
	pkb.KindChunkAdded,
	pkb.KindChunkUpdated,
	pkb.KindChunkRemoved,
	pkb.KindEntryPulled,
	pkb.KindSyncStarted,
	pkb.KindSyncCompleted,
	pkb.KindSyncFailed,
}

// Indexer consumes PKB events on one goroutine. The subscription is taken
// in New so nothing emitted between construction and Serve is missed.
type Indexer struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
	events *eventbus.Stream
}

// New subscribes to every PKB event on bus with the given buffer.
func New(bus *eventbus.Bus, store Store, buffer int) *Indexer {
	return &Indexer{
		store:  store,
		logger: logging.WithComponent("indexer"),
		now:    time.Now,
		events: eventbus.SubscribeKinds(bus, buffer, Kinds...),
	}
}

func (ix *Indexer) String() string { return "event-indexer" }

// Serve handles events until the subscription is closed, then returns nil.
// A cancelled context unsubscribes and returns ctx.Err().
func (ix *Indexer) Serve(ctx context.Context) error {
	events := ix.events.C()
	for {
		select {
		case <-ctx.Done():
			ix.Close()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				ix.logger.Info().Msg("Event indexer finished: subscription closed")
				return nil
			}
			ix.handle(ctx, ev)
		}
	}
}

func (ix *Indexer) handle(ctx context.Context, ev eventbus.Event) {
	switch ev := ev.(type) {
	case pkb.ChunkAdded:
		ix.upsert(ctx, ev.EventKind(), ev.Entry)
	case pkb.ChunkUpdated:
		ix.upsert(ctx, ev.EventKind(), ev.Entry)
	case pkb.EntryPulled:
		ix.upsert(ctx, ev.EventKind(), ev.Entry)
	case pkb.ChunkRemoved:
		_, err := ix.store.DeleteEntry(ctx, string(ev.Directory), ev.Path)
		ix.done(ev.EventKind(), err, ev.Directory, ev.Path)
	case pkb.SyncStarted:
		ix.recordSync(ctx, ev.EventKind(), dbactor.SyncLogRow{
			RunID: ev.RunID, Directory: string(ev.Directory), Event: SyncEventStarted,
		})
	case pkb.SyncCompleted:
		ix.recordSync(ctx, ev.EventKind(), dbactor.SyncLogRow{
			RunID: ev.RunID, Directory: string(ev.Directory), Event: SyncEventCompleted,
			Pulled: ev.Pulled, Pushed: ev.Pushed, Failed: ev.Failed,
		})
	case pkb.SyncFailed:
		ix.recordSync(ctx, ev.EventKind(), dbactor.SyncLogRow{
			RunID: ev.RunID, Directory: string(ev.Directory), Event: SyncEventFailed, Reason: ev.Reason,
		})
	default:
		ix.done(ev.EventKind(), fmt.Errorf("unexpected event type %T", ev), "", "")
	}
}

// Close unsubscribes from the bus. Serve returns once the closed channel
// has been drained.
func (ix *Indexer) Close() {
	ix.events.Unsubscribe()
}

func (ix *Indexer) upsert(ctx context.Context, kind eventbus.Kind, e *pkb.Entry) {
	if e == nil {
		ix.done(kind, fmt.Errorf("event without entry"), "", "")
		return
	}
	row, err := RowFromEntry(e)
	if err == nil {
		err = ix.store.UpsertEntry(ctx, row)
	}
	ix.done(kind, err, e.Directory, e.Path)
}

func (ix *Indexer) recordSync(ctx context.Context, kind eventbus.Kind, row dbactor.SyncLogRow) {
	row.RecordedAt = ix.now()
	ix.done(kind, ix.store.RecordSync(ctx, row), pkb.DirectoryID(row.Directory), "")
}

func (ix *Indexer) done(kind eventbus.Kind, err error, dir pkb.DirectoryID, path string) {
	switch {
	case err == nil:
		metrics.RecordIndexerEvent(string(kind), "indexed")
	case dbactor.IsUnavailable(err):
		metrics.RecordIndexerEvent(string(kind), "skipped")
		ix.logger.Warn().Err(err).Str("kind", string(kind)).Str("directory", string(dir)).
			Str("path", path).Msg("Projection unavailable, event not indexed")
	default:
		metrics.RecordIndexerEvent(string(kind), "failed")
		ix.logger.Error().Err(err).Str("kind", string(kind)).Str("directory", string(dir)).
			Str("path", path).Msg("Failed to index event")
	}
}

// RowFromEntry builds the projection row for a live entry.
func RowFromEntry(e *pkb.Entry) (dbactor.EntryRow, error) {
	data, err := pkb.EncodeChunk(e.Chunk)
	if err != nil {
		return dbactor.EntryRow{}, err
	}
	row := dbactor.EntryRow{
		EntryID:     string(e.ID),
		Directory:   string(e.Directory),
		Path:        e.Path,
		ChunkID:     string(e.ChunkID),
		ContentType: string(e.Chunk.ContentType()),
		Origin:      e.Meta.Origin,
		HLC:         e.Meta.Timestamp.String(),
		CreatedAt:   e.Meta.CreatedAt,
		Summary:     e.Chunk.Summary(),
		Data:        data,
	}
	switch c := e.Chunk.(type) {
	case pkb.MediaLink:
		row.Media = &dbactor.MediaRow{URL: c.URL, MimeType: c.MimeType, Title: c.Title, Description: c.Description}
	case pkb.StructuredData:
		row.Structured = &dbactor.StructuredRow{DbType: c.DbType, Payload: c.Payload}
	case pkb.Note:
		row.Note = &dbactor.NoteRow{Title: c.Title, Body: c.Body, Tags: c.Tags}
	default:
		return dbactor.EntryRow{}, fmt.Errorf("unsupported chunk type %T", e.Chunk)
	}
	return row, nil
}
