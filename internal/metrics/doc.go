// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package metrics defines the Prometheus collectors exported on /metrics.
//
// Collectors are registered with the default registry through promauto and
// are updated through the Record* helpers so call sites stay one line:
//
//	metrics.RecordChunkAdded("notes", "media_link")
//	metrics.RecordActorCommand("upsert_entry", time.Since(start), err)
package metrics
