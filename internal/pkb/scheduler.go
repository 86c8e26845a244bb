// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/logging"
)

// Scheduler runs SyncAll on a fixed interval. It implements suture.Service.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   zerolog.Logger
}

// NewScheduler creates a scheduler. A non-positive interval makes Serve idle
// until cancelled.
func NewScheduler(svc *Service, interval time.Duration) *Scheduler {
	return &Scheduler{svc: svc, interval: interval, logger: logging.WithComponent("sync-scheduler")}
}

// Serve blocks until ctx is cancelled.
func (s *Scheduler) Serve(ctx context.Context) error {
	if s.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.interval).Msg("Sync scheduler started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	results, err := s.svc.SyncAll(ctx)
	pulled, pushed := 0, 0
	for _, r := range results {
		pulled += r.Pulled
		pushed += r.Pushed
	}
	ev := s.logger.Info()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Int("directories", len(results)).Int("pulled", pulled).Int("pushed", pushed).Msg("Scheduled sync finished")
}

// String implements fmt.Stringer for supervisor logs.
func (s *Scheduler) String() string { return "sync-scheduler" }
