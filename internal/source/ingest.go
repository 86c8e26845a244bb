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

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/pkbsync/internal/cache"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// Defaults for ChannelOptions.
const (
	DefaultGroupSize = 8
)

// Committer is the part of *pkb.Service the channel commits through.
type Committer interface {
	AddChunk(ctx context.Context, dir pkb.DirectoryID, path string, c pkb.Chunk) (*pkb.Entry, error)
}

// ItemFailure records why one item of a batch was not ingested.
type ItemFailure struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// BatchResult summarizes IngestBatch. Processed+SkippedDuplicate+len(Failed)
// equals the batch size.
type BatchResult struct {
	Processed        int           `json:"processed"`
	SkippedDuplicate int           `json:"skipped_duplicate"`
	Failed           []ItemFailure `json:"failed,omitempty"`
}

// ChannelOptions configures an IngestionChannel.
type ChannelOptions struct {
	// Source names the source for logs and metrics.
	Source    string
	Directory pkb.DirectoryID
	// GroupSize is how many items of a batch are committed concurrently.
	GroupSize int
}

// IngestionChannel funnels items from one source into one directory,
// skipping source ids seen within the recency window.
//
// The cache lives in process memory only. Duplicates across restarts are
// absorbed by content addressing: re-adding identical content at the same
// path returns the existing entry.
type IngestionChannel struct {
	svc    Committer
	seen   *cache.RecencyCache
	opts   ChannelOptions
	logger zerolog.Logger
}

// NewIngestionChannel creates a channel. seen may be shared between channels
// whose source ids cannot collide.
func NewIngestionChannel(svc Committer, seen *cache.RecencyCache, opts ChannelOptions) *IngestionChannel {
	if opts.GroupSize <= 0 {
		opts.GroupSize = DefaultGroupSize
	}
	return &IngestionChannel{
		svc:    svc,
		seen:   seen,
		opts:   opts,
		logger: logging.WithComponent("ingest").With().Str("source", opts.Source).Str("directory", string(opts.Directory)).Logger(),
	}
}

// Source returns the source name.
func (c *IngestionChannel) Source() string { return c.opts.Source }

// Directory returns the target directory.
func (c *IngestionChannel) Directory() pkb.DirectoryID { return c.opts.Directory }

// Ingest commits one item. It returns ErrDuplicate when the item's source id
// was seen within the window.
func (c *IngestionChannel) Ingest(ctx context.Context, item Item) (*pkb.Entry, error) {
	if item.SourceID == "" {
		return nil, errors.New("item has no source id")
	}
	if c.seen.Seen(item.SourceID) {
		metrics.RecordIngest(c.opts.Source, 0, 1, 0)
		return nil, fmt.Errorf("%s: %w", item.SourceID, ErrDuplicate)
	}
	entry, err := c.commit(ctx, item)
	if err != nil {
		metrics.RecordIngest(c.opts.Source, 0, 0, 1)
		return nil, err
	}
	metrics.RecordIngest(c.opts.Source, 1, 0, 0)
	return entry, nil
}

func (c *IngestionChannel) commit(ctx context.Context, item Item) (*pkb.Entry, error) {
	chunk, err := item.Chunk()
	if err != nil {
		return nil, err
	}
	entry, err := c.svc.AddChunk(ctx, c.opts.Directory, item.Path, chunk)
	if err != nil {
		return nil, err
	}
	c.seen.Mark(item.SourceID)
	return entry, nil
}

// IngestBatch ingests items, never failing the whole batch. Seen ids are
// filtered with one cache read; an id repeated inside the batch counts as a
// duplicate after its first occurrence. The rest is committed in groups of
// GroupSize.
func (c *IngestionChannel) IngestBatch(ctx context.Context, items []Item) BatchResult {
	var res BatchResult

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.SourceID
	}
	seen := c.seen.SeenMany(ids)

	pending := make([]Item, 0, len(items))
	inBatch := make(map[string]struct{}, len(items))
	for i, it := range items {
		switch {
		case it.SourceID == "":
			res.Failed = append(res.Failed, ItemFailure{Reason: "item has no source id"})
		case seen[i]:
			res.SkippedDuplicate++
		default:
			if _, dup := inBatch[it.SourceID]; dup {
				res.SkippedDuplicate++
				continue
			}
			inBatch[it.SourceID] = struct{}{}
			pending = append(pending, it)
		}
	}

	var mu sync.Mutex
	for start := 0; start < len(pending); start += c.opts.GroupSize {
		group := pending[start:min(start+c.opts.GroupSize, len(pending))]

		if err := ctx.Err(); err != nil {
			for _, it := range pending[start:] {
				res.Failed = append(res.Failed, ItemFailure{SourceID: it.SourceID, Reason: err.Error()})
			}
			break
		}

		var g errgroup.Group
		for _, it := range group {
			g.Go(func() error {
				_, err := c.commit(ctx, it)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed = append(res.Failed, ItemFailure{SourceID: it.SourceID, Reason: err.Error()})
					return nil
				}
				res.Processed++
				return nil
			})
		}
		_ = g.Wait()
	}

	metrics.RecordIngest(c.opts.Source, res.Processed, res.SkippedDuplicate, len(res.Failed))
	if len(res.Failed) > 0 {
		c.logger.Warn().Int("processed", res.Processed).Int("duplicates", res.SkippedDuplicate).
			Int("failed", len(res.Failed)).Str("first_failure", res.Failed[0].Reason).Msg("Batch ingested with failures")
	} else {
		c.logger.Debug().Int("processed", res.Processed).Int("duplicates", res.SkippedDuplicate).Msg("Batch ingested")
	}
	return res
}
