// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package eventbus is the typed in-process event fabric connecting the
// directory service, the relational indexer and external observers.
//
// Each event type declares its routing Kind; subscriptions are typed, so a
// subscriber of one type never receives another:
//
//	sub := eventbus.Subscribe[pkb.ChunkAdded](bus, 128)
//	defer sub.Unsubscribe()
//	for ev := range sub.C() {
//	    ...
//	}
//
//	err := eventbus.Emit(ctx, bus, pkb.ChunkAdded{...}) // waits for room
//	n := eventbus.TryEmit(bus, pkb.SyncStarted{...})    // drops when full
//
// There is no replay. A Forwarder republishes selected types to a watermill
// publisher (gochannel in-process, NATS when built with -tags nats).
package eventbus
