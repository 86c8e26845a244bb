// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// SyncState is the per-directory sync state machine:
// Idle -> Fetching -> Merging -> Committed|Failed -> Idle.
type SyncState int32

const (
	StateIdle SyncState = iota
	StateFetching
	StateMerging
	StateCommitted
	StateFailed
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateMerging:
		return "merging"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// RemoteResult is the outcome of one remote in a sync run.
type RemoteResult struct {
	Remote    string `json:"remote"`
	Pulled    int    `json:"pulled"`
	Pushed    int    `json:"pushed"`
	Identical int    `json:"identical"`
	Conflicts int    `json:"conflicts"`
	Rejected  int    `json:"rejected"`
	Err       error  `json:"-"`
}

// MergeResult summarises one SyncDirectory run.
type MergeResult struct {
	Directory DirectoryID    `json:"directory"`
	RunID     string         `json:"run_id"`
	Pulled    int            `json:"pulled"`
	Pushed    int            `json:"pushed"`
	Remotes   []RemoteResult `json:"remotes"`
	// Losers holds versions discarded by the strategy when it preserves them.
	Losers   []Record      `json:"losers,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed returns the remotes that did not complete.
func (r *MergeResult) Failed() []RemoteResult {
	var out []RemoteResult
	for _, rr := range r.Remotes {
		if rr.Err != nil {
			out = append(out, rr)
		}
	}
	return out
}

// Err joins the per-remote errors.
func (r *MergeResult) Err() error {
	var errs []error
	for _, rr := range r.Remotes {
		if rr.Err != nil {
			errs = append(errs, rr.Err)
		}
	}
	return errors.Join(errs...)
}

// State returns the sync state of dir.
func (s *Service) State(dir DirectoryID) (SyncState, error) {
	d, err := s.directory("state", dir)
	if err != nil {
		return StateIdle, err
	}
	return SyncState(d.state.Load()), nil
}

func (s *Service) transition(d *directory, to SyncState) {
	from := SyncState(d.state.Swap(int32(to)))
	s.logger.Debug().Str("directory", string(d.id)).Str("from", from.String()).Str("to", to.String()).Msg("Sync state")
}

// SyncDirectory exchanges dir with every configured remote: fetch all
// remotes in parallel, merge and apply each remote's snapshot, then push to
// each remote what it is missing. A failing remote is reported in its
// RemoteResult and does not fail the run. The returned error is non-nil only
// when the run could not start or was cancelled; cancellation moves the
// directory through Failed back to Idle.
func (s *Service) SyncDirectory(ctx context.Context, dir DirectoryID) (*MergeResult, error) {
	d, err := s.directory("sync", dir)
	if err != nil {
		return nil, err
	}
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateFetching)) {
		return nil, fmt.Errorf("sync %s: %w", dir, ErrSyncInProgress)
	}
	defer s.transition(d, StateIdle)

	if s.opts.SyncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.SyncTimeout)
		defer cancel()
	}

	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.ContextWithDirectory(logging.ContextWithCorrelationID(ctx, runID), string(dir))
	log := logging.Ctx(ctx)

	remotes, err := s.registry.Remotes(dir)
	if err != nil {
		s.transition(d, StateFailed)
		return nil, err
	}
	names := make([]string, len(remotes))
	for i, b := range remotes {
		names[i] = b.Name()
	}

	result := &MergeResult{Directory: dir, RunID: runID, Remotes: make([]RemoteResult, len(remotes))}
	emit(ctx, s, SyncStarted{Directory: dir, RunID: runID, Remotes: names, StartedAt: start.UTC()})
	log.Info().Strs("remotes", names).Msg("Sync started")

	// Fetching
	snapshots := make([][]Record, len(remotes))
	g := new(errgroup.Group)
	g.SetLimit(s.opts.MaxParallelRemotes)
	for i, name := range names {
		result.Remotes[i].Remote = name
		g.Go(func() error {
			snap, err := call(s.breakers, name, func() ([]Record, error) {
				return s.node.Fetch(ctx, dir, name)
			})
			if err != nil {
				result.Remotes[i].Err = &SyncError{Remote: name, Stage: "fetch", Err: err}
				return nil
			}
			snapshots[i] = snap
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return s.failSync(ctx, d, result, start, err)
	}

	// Merging
	s.transition(d, StateMerging)
	pushes, err := s.mergeRemotes(ctx, d, result, snapshots)
	if err != nil {
		return s.failSync(ctx, d, result, start, err)
	}

	// Pushing
	g = new(errgroup.Group)
	g.SetLimit(s.opts.MaxParallelRemotes)
	for i, name := range names {
		if result.Remotes[i].Err != nil || len(pushes[i]) == 0 {
			continue
		}
		records := pushes[i]
		g.Go(func() error {
			_, err := call(s.breakers, name, func() (struct{}, error) {
				return struct{}{}, s.node.Push(ctx, dir, name, records)
			})
			if err != nil {
				result.Remotes[i].Err = &SyncError{Remote: name, Stage: "push", Err: err}
				return nil
			}
			result.Remotes[i].Pushed = len(records)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return s.failSync(ctx, d, result, start, err)
	}

	for _, rr := range result.Remotes {
		result.Pulled += rr.Pulled
		result.Pushed += rr.Pushed
		if rr.Err != nil {
			log.Warn().Err(rr.Err).Str("remote", rr.Remote).Msg("Remote sync failed")
		}
	}
	result.Duration = time.Since(start)

	failed := len(result.Failed())
	if len(remotes) > 0 && failed == len(remotes) {
		s.transition(d, StateFailed)
		reason := result.Err().Error()
		emit(ctx, s, SyncFailed{Directory: dir, RunID: runID, Reason: reason, Duration: result.Duration})
		metrics.RecordSyncRun(string(dir), "failed", result.Duration, result.Pulled, result.Pushed)
		log.Warn().Str("reason", reason).Msg("Sync failed for every remote")
		return result, nil
	}

	s.transition(d, StateCommitted)
	outcome := "completed"
	if failed > 0 {
		outcome = "partial"
	}
	emit(ctx, s, SyncCompleted{
		Directory: dir,
		RunID:     runID,
		Pulled:    result.Pulled,
		Pushed:    result.Pushed,
		Failed:    failed,
		Duration:  result.Duration,
	})
	metrics.RecordSyncRun(string(dir), outcome, result.Duration, result.Pulled, result.Pushed)
	log.Info().
		Int("pulled", result.Pulled).
		Int("pushed", result.Pushed).
		Int("failed_remotes", failed).
		Dur("duration", result.Duration).
		Msg("Sync completed")
	return result, nil
}

// mergeRemotes applies every fetched snapshot under the directory lock and
// returns, per remote, the local records that remote lacks or holds older.
// Pushes are planned against the final local state so records pulled from
// one remote reach the others in the same run.
func (s *Service) mergeRemotes(ctx context.Context, d *directory, result *MergeResult, snapshots [][]Record) ([][]Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, snap := range snapshots {
		if result.Remotes[i].Err != nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		valid, rejected := verifyRecords(snap)
		snapshots[i] = valid
		result.Remotes[i].Rejected = rejected

		local, err := d.repo.Snapshot()
		if err != nil {
			return nil, err
		}
		out := Merge(s.strategy, local, valid)
		applied, err := s.apply(ctx, d, local, out.Apply)
		result.Remotes[i].Pulled = applied
		result.Remotes[i].Identical = out.Identical
		result.Remotes[i].Conflicts = len(out.Conflicts)
		result.Losers = append(result.Losers, out.Losers...)
		if err != nil {
			result.Remotes[i].Err = &SyncError{Remote: result.Remotes[i].Remote, Stage: "apply", Err: err}
		}
	}

	final, err := d.repo.Snapshot()
	if err != nil {
		return nil, err
	}
	pushes := make([][]Record, len(snapshots))
	for i, snap := range snapshots {
		if result.Remotes[i].Err != nil {
			continue
		}
		pushes[i] = merge(s.strategy, final, snap, false).Push
	}
	return pushes, nil
}

// apply commits remote records that won the merge and emits their events.
// The caller holds d.mu.
func (s *Service) apply(ctx context.Context, d *directory, local []Record, records []Record) (int, error) {
	previous := make(map[string]*Record, len(local))
	for i := range local {
		previous[local[i].Path] = &local[i]
	}

	applied := 0
	for i := range records {
		rec := &records[i]
		s.clock.Observe(rec.Timestamp)
		if _, err := d.repo.Commit(rec); err != nil {
			return applied, err
		}
		applied++
		metrics.RecordChunkCommitted(string(d.id), string(rec.ContentType), "pull", 0)

		if rec.Deleted {
			if prev := previous[rec.Path]; prev != nil && !prev.Deleted {
				emit(ctx, s, ChunkRemoved{Directory: d.id, Path: rec.Path, EntryID: prev.EntryID, Origin: rec.Origin()})
			}
			continue
		}
		entry, err := EntryFromRecord(d.id, rec)
		if err != nil {
			// Verified records always decode; keep going if one does not.
			s.logger.Warn().Err(err).Str("directory", string(d.id)).Str("path", rec.Path).Msg("Applied record does not decode")
			continue
		}
		emit(ctx, s, EntryPulled{Directory: d.id, Entry: entry, SourceDevice: rec.Origin()})
	}
	return applied, nil
}

func verifyRecords(records []Record) ([]Record, int) {
	valid := records[:0:0]
	rejected := 0
	for i := range records {
		if err := records[i].Verify(); err != nil {
			logging.Warn().Err(err).Str("path", records[i].Path).Msg("Rejected remote record")
			rejected++
			continue
		}
		valid = append(valid, records[i])
	}
	return valid, rejected
}

func (s *Service) failSync(ctx context.Context, d *directory, result *MergeResult, start time.Time, cause error) (*MergeResult, error) {
	s.transition(d, StateFailed)
	result.Duration = time.Since(start)
	emit(ctx, s, SyncFailed{Directory: d.id, RunID: result.RunID, Reason: cause.Error(), Duration: result.Duration})
	metrics.RecordSyncRun(string(d.id), "failed", result.Duration, result.Pulled, result.Pushed)
	logging.Ctx(ctx).Warn().Err(cause).Msg("Sync aborted")
	return result, fmt.Errorf("sync %s: %w", d.id, cause)
}

// SyncAll synchronizes every directory in turn. Directories already syncing
// are skipped. Errors are joined; results are returned for every directory
// that ran.
func (s *Service) SyncAll(ctx context.Context) ([]*MergeResult, error) {
	var (
		results []*MergeResult
		errs    []error
	)
	for _, meta := range s.registry.List() {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.SyncDirectory(ctx, meta.ID)
		if res != nil {
			results = append(results, res)
		}
		if err != nil && !errors.Is(err, ErrSyncInProgress) {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}

// PullEntry returns the entry with id, fetching it from the remotes of dir
// when it is not available locally. A pulled entry that wins its path is
// committed and announced with EntryPulled; an older one is archived so it
// stays addressable by id.
func (s *Service) PullEntry(ctx context.Context, dir DirectoryID, id EntryID) (*Entry, error) {
	d, err := s.directory("pull entry", dir)
	if err != nil {
		return nil, err
	}
	if rec, err := d.repo.GetEntry(id); err == nil {
		return EntryFromRecord(dir, rec)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	remotes, err := s.registry.Remotes(dir)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, b := range remotes {
		name := b.Name()
		rec, err := call(s.breakers, name, func() (*Record, error) {
			return s.node.FetchEntry(ctx, dir, name, id)
		})
		switch {
		case errors.Is(err, ErrNotFound):
			continue
		case err != nil:
			errs = append(errs, &SyncError{Remote: name, Stage: "fetch", Err: err})
			continue
		case rec == nil || rec.EntryID != id || rec.Deleted:
			errs = append(errs, &SyncError{Remote: name, Stage: "fetch", Err: fmt.Errorf("remote answered with a different entry for %s", id)})
			continue
		}
		if err := rec.Verify(); err != nil {
			errs = append(errs, &SyncError{Remote: name, Stage: "merge", Err: err})
			continue
		}
		return s.materialize(ctx, d, rec)
	}

	notFound := fmt.Errorf("entry %s in %s: %w", id, dir, ErrNotFound)
	if len(errs) == 0 {
		return nil, notFound
	}
	return nil, errors.Join(append([]error{notFound}, errs...)...)
}

func (s *Service) materialize(ctx context.Context, d *directory, rec *Record) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.repo.Get(rec.Path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	res, rerr := s.strategy.Resolve(rec.Path, current, rec)
	if rerr == nil && res.Decision == TakeRemote {
		var local []Record
		if current != nil {
			local = []Record{*current}
		}
		if _, err := s.apply(ctx, d, local, []Record{*rec}); err != nil {
			return nil, err
		}
	} else {
		s.clock.Observe(rec.Timestamp)
		if _, err := d.repo.Archive(rec); err != nil {
			return nil, err
		}
	}
	return EntryFromRecord(d.id, rec)
}
