// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// maxCursorRetries is how many polls in a row may end with failed items
// before the cursor moves past them anyway.
const maxCursorRetries = 3

// PullSource is one configured pull source.
type PullSource struct {
	Name    string
	Adapter PullAdapter
	Config  AdapterConfig
	Channel *IngestionChannel
}

// Poller polls every pull source on an interval, persisting cursors between
// polls. It implements suture.Service.
type Poller struct {
	cursors  CursorStore
	limiter  *rate.Limiter
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	sources []PullSource
	retries map[string]int
}

// NewPoller creates a poller. pollRate caps polls per second across all
// sources; zero or less disables the limit.
func NewPoller(cursors CursorStore, interval time.Duration, pollRate float64) *Poller {
	limit := rate.Inf
	if pollRate > 0 {
		limit = rate.Limit(pollRate)
	}
	return &Poller{
		cursors:  cursors,
		limiter:  rate.NewLimiter(limit, 1),
		interval: interval,
		logger:   logging.WithComponent("source-poller"),
		retries:  make(map[string]int),
	}
}

// Add registers a source.
func (p *Poller) Add(src PullSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sources = append(p.sources, src)
}

// Sources returns the registered source names.
func (p *Poller) Sources() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.sources))
	for i, s := range p.sources {
		names[i] = s.Name
	}
	return names
}

// Serve polls once immediately, then on every tick until ctx is cancelled.
func (p *Poller) Serve(ctx context.Context) error {
	if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
		p.logger.Warn().Err(err).Msg("Initial poll failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn().Err(err).Msg("Poll failed")
			}
		}
	}
}

func (p *Poller) String() string { return "source-poller" }

// PollOnce drains every source until it reports no more items. Errors from
// individual sources are joined; one failing source does not stop the rest.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.mu.Lock()
	sources := append([]PullSource(nil), p.sources...)
	p.mu.Unlock()

	var errs []error
	for _, src := range sources {
		if err := p.pollSource(ctx, src); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", src.Name, err))
		}
		if ctx.Err() != nil {
			break
		}
	}
	return errors.Join(errs...)
}

func (p *Poller) pollSource(ctx context.Context, src PullSource) error {
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		cursor, err := p.cursors.Load(src.Name)
		if err != nil {
			return err
		}

		start := time.Now()
		out, err := src.Adapter.Poll(ctx, src.Config, cursor)
		metrics.IngestPollDuration.WithLabelValues(src.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if len(out.Items) == 0 {
			return nil
		}

		res := src.Channel.IngestBatch(ctx, out.Items)
		if !p.advance(src.Name, res) {
			return fmt.Errorf("%d of %d items failed, cursor kept", len(res.Failed), len(out.Items))
		}
		if err := p.cursors.Save(src.Name, out.Cursor); err != nil {
			return err
		}
		if !out.HasMore {
			return nil
		}
	}
}

// advance reports whether the cursor may move past a batch.
func (p *Poller) advance(name string, res BatchResult) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(res.Failed) == 0 {
		delete(p.retries, name)
		return true
	}
	p.retries[name]++
	if p.retries[name] < maxCursorRetries {
		return false
	}
	delete(p.retries, name)
	p.logger.Error().Str("source", name).Int("failed", len(res.Failed)).
		Str("first_failure", res.Failed[0].Reason).Msg("Giving up on failed items, advancing cursor")
	return true
}
