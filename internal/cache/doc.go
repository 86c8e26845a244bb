// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package cache provides the bounded recency cache used to deduplicate
// ingested media items by source id.
//
// The cache is an LRU (hash map plus doubly linked list) whose entries expire
// after a fixed window. It is in-memory only: after a restart an item may be
// ingested again, which is harmless because chunk ids are content addressed.
package cache
