// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package dbactor owns the relational projection of the knowledge base.
//
// One worker goroutine holds the only *sql.DB handle (DuckDB by default,
// pure-Go SQLite as an alternative) and executes commands taken from a
// bounded queue. Callers hold a Handle and never see the connection:
//
//	actor := dbactor.New(cfg)
//	if err := actor.Start(ctx); err != nil { ... }
//	h := actor.Handle()
//	err := h.UpsertEntry(ctx, row)
//	rows, err := h.Query(ctx, "SELECT summary FROM thestream ORDER BY created_at DESC LIMIT ?", 20)
//	_ = actor.Stop(ctx) // drains queued commands, closes the connection, joins
//
// When the queue is full a send either waits (BackpressureBlock) or fails
// with ErrQueueFull (BackpressureFailFast).
//
// A panic or a lost connection terminates only the worker. The command that
// was executing gets the error, queued commands and new sends get
// ErrConnectionLost. Under a supervisor, Serve is restarted and the actor
// becomes available again.
//
// The projection is disposable: it is rebuilt by replaying PKB events and is
// never a durability boundary.
package dbactor
