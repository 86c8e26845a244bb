// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package pkb is the authoritative store of the personal knowledge base.
//
// Content is kept in directories, one badger repository per directory,
// listed in a JSON registry under <base>/.pkb/directories.json. A chunk is
// an immutable typed payload addressed by the sha256 of its canonical
// encoding; committing it at a path creates an entry whose id also covers
// the committing device and time, so two devices writing the same chunk
// still produce distinguishable entries.
//
// # Synchronization
//
// Devices exchange per-path records through a NodeHandle. Merging is
// history-less: there is no shared commit graph, only the current record of
// each path on each side. A path present on one side is kept, identical
// content is a no-op, and different content is settled by the later hybrid
// logical clock timestamp (wall millis, then logical counter, then device
// id). This never produces a merge conflict, at the price of causal history:
// an edit made concurrently on another device with an earlier timestamp is
// overwritten, not merged. LatestWins{PreserveLosers: true} reports the
// overwritten versions in the sync result so callers can keep them.
//
// Removals are tombstone records and take part in the same rule, so a
// deletion wins over an older edit and loses to a newer one.
//
// # Events
//
// Every local or pulled change is announced on the event bus (ChunkAdded,
// ChunkUpdated, ChunkRemoved, EntryPulled) after it is committed, in commit
// order per directory. Sync runs emit SyncStarted followed by SyncCompleted
// or SyncFailed. Service.Replay re-emits the current state so a derived index
// can be rebuilt from scratch.
package pkb
