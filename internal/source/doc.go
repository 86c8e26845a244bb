// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package source ingests external media into the knowledge base.
//
// Adapters declare their capabilities. Pull adapters are polled with an
// opaque cursor they own; push adapters deliver items through a callback
// from endpoints they set up. Either way items pass through an
// IngestionChannel, which drops source ids seen within the dedup window and
// commits the rest through the directory service.
//
// Adapter configs are stored as an Envelope whose Kind selects the concrete
// type:
//
//	{"kind":"localdir","config":{"root":"/srv/photos","recursive":true}}
//
// Built-in kinds:
//
//	localdir  pull (walk, cursor) and push (fsnotify)
//	webhook   push (HTTP POST /hooks/{endpoint})
package source
