// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"time"

	"github.com/tomtom215/pkbsync/internal/cache"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// DefaultSweepInterval is used when NewSeenSweeper gets no interval.
const DefaultSweepInterval = time.Minute

// SeenSweeper collects expired ids from the ingestion recency cache, which
// otherwise only drops them when they are looked up again, and publishes
// the cache's size and hit counts.
type SeenSweeper struct {
	seen     *cache.RecencyCache
	interval time.Duration

	lastHits, lastMisses int64
}

// NewSeenSweeper sweeps seen every interval.
func NewSeenSweeper(seen *cache.RecencyCache, interval time.Duration) *SeenSweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &SeenSweeper{seen: seen, interval: interval}
}

func (s *SeenSweeper) String() string { return "dedup-sweeper" }

// Sweep runs one pass and returns how many ids expired. Serve is the only
// caller outside tests.
func (s *SeenSweeper) Sweep() int {
	expired := s.seen.CleanupExpired()
	hits, misses, size := s.seen.Stats()
	metrics.RecordDedupSweep(expired, hits-s.lastHits, misses-s.lastMisses, size)
	s.lastHits, s.lastMisses = hits, misses
	return expired
}

// Serve sweeps on a ticker until ctx ends.
func (s *SeenSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				logging.Debug().Int("expired", n).Msg("Swept ingestion recency cache")
			}
		}
	}
}
