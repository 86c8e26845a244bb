// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"time"

	"github.com/tomtom215/pkbsync/internal/eventbus"
)

// Event kinds. These strings are the wire contract for external observers.
const (
	KindChunkAdded    eventbus.Kind = "pkb.chunk_added"
	KindChunkUpdated  eventbus.Kind = "pkb.chunk_updated"
	KindChunkRemoved  eventbus.Kind = "pkb.chunk_removed"
	KindEntryPulled   eventbus.Kind = "pkb.entry_pulled"
	KindSyncStarted   eventbus.Kind = "pkb.sync_started"
	KindSyncCompleted eventbus.Kind = "pkb.sync_completed"
	KindSyncFailed    eventbus.Kind = "pkb.sync_failed"
)

// ChunkAdded is emitted after a new path was committed locally.
// Entry.Chunk holds the decoded chunk.
type ChunkAdded struct {
	Directory DirectoryID `json:"directory"`
	Entry     *Entry      `json:"entry"`
	// Replayed marks events re-emitted by Service.Replay.
	Replayed bool `json:"replayed,omitempty"`
}

func (ChunkAdded) EventKind() eventbus.Kind { return KindChunkAdded }

// ChunkUpdated is emitted when a local commit replaced different content at a path.
type ChunkUpdated struct {
	Directory DirectoryID `json:"directory"`
	Entry     *Entry      `json:"entry"`
	Previous  EntryID     `json:"previous"`
}

func (ChunkUpdated) EventKind() eventbus.Kind { return KindChunkUpdated }

// ChunkRemoved is emitted when a path was tombstoned, locally or by a remote.
type ChunkRemoved struct {
	Directory DirectoryID `json:"directory"`
	Path      string      `json:"path"`
	EntryID   EntryID     `json:"entry_id"`
	Origin    string      `json:"origin"`
}

func (ChunkRemoved) EventKind() eventbus.Kind { return KindChunkRemoved }

// EntryPulled is emitted when an entry written by another device was
// materialized locally, by sync or by a targeted pull.
type EntryPulled struct {
	Directory    DirectoryID `json:"directory"`
	Entry        *Entry      `json:"entry"`
	SourceDevice string      `json:"source_device"`
}

func (EntryPulled) EventKind() eventbus.Kind { return KindEntryPulled }

// SyncStarted opens a sync run.
type SyncStarted struct {
	Directory DirectoryID `json:"directory"`
	RunID     string      `json:"run_id"`
	Remotes   []string    `json:"remotes"`
	StartedAt time.Time   `json:"started_at"`
}

func (SyncStarted) EventKind() eventbus.Kind { return KindSyncStarted }

// SyncCompleted closes a run in which at least one remote succeeded, or
// which had no remotes at all.
type SyncCompleted struct {
	Directory DirectoryID   `json:"directory"`
	RunID     string        `json:"run_id"`
	Pulled    int           `json:"pulled"`
	Pushed    int           `json:"pushed"`
	Failed    int           `json:"failed_remotes"`
	Duration  time.Duration `json:"duration"`
}

func (SyncCompleted) EventKind() eventbus.Kind { return KindSyncCompleted }

// SyncFailed closes a run in which every remote failed or the run was cancelled.
type SyncFailed struct {
	Directory DirectoryID   `json:"directory"`
	RunID     string        `json:"run_id"`
	Reason    string        `json:"reason"`
	Duration  time.Duration `json:"duration"`
}

func (SyncFailed) EventKind() eventbus.Kind { return KindSyncFailed }

// ForwardAll registers every PKB event type with f.
func ForwardAll(f *eventbus.Forwarder) {
	eventbus.Forward[ChunkAdded](f)
	eventbus.Forward[ChunkUpdated](f)
	eventbus.Forward[ChunkRemoved](f)
	eventbus.Forward[EntryPulled](f)
	eventbus.Forward[SyncStarted](f)
	eventbus.Forward[SyncCompleted](f)
	eventbus.Forward[SyncFailed](f)
}
