// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package dbactor

import "context"

// Handle sends commands to an Actor. The zero value is unusable.
type Handle struct {
	actor *Actor
}

// Send runs cmd on the worker and waits for the result.
func (h Handle) Send(ctx context.Context, cmd Command) Result {
	return h.actor.send(ctx, cmd, false)
}

func (h Handle) UpsertEntry(ctx context.Context, row EntryRow) error {
	return h.Send(ctx, UpsertEntry{Row: row}).Err
}

// DeleteEntry reports whether a row existed at (directory, path).
func (h Handle) DeleteEntry(ctx context.Context, directory, path string) (bool, error) {
	res := h.Send(ctx, DeleteEntry{Directory: directory, Path: path})
	return res.RowsAffected > 0, res.Err
}

func (h Handle) InsertMediaSource(ctx context.Context, src MediaSourceRow) error {
	return h.Send(ctx, InsertMediaSource{Source: src}).Err
}

func (h Handle) RecordSync(ctx context.Context, entry SyncLogRow) error {
	return h.Send(ctx, RecordSync{Entry: entry}).Err
}

func (h Handle) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	res := h.Send(ctx, Query{SQL: sql, Args: args})
	return res.Rows, res.Err
}

func (h Handle) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	res := h.Send(ctx, Exec{SQL: sql, Args: args})
	return res.RowsAffected, res.Err
}
