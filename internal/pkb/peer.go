// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"fmt"
)

var _ Peer = (*Service)(nil)

// ServeSnapshot returns the current record of every path in dir, tombstones
// included, for a device fetching from this one.
func (s *Service) ServeSnapshot(_ context.Context, dir DirectoryID) ([]Record, error) {
	d, err := s.directory("serve snapshot", dir)
	if err != nil {
		return nil, err
	}
	return d.repo.Snapshot()
}

// AcceptPush merges records pushed by source into dir with the same strategy
// SyncDirectory uses, so both sides converge. Records that fail verification
// are dropped. It returns the number of records applied.
func (s *Service) AcceptPush(ctx context.Context, dir DirectoryID, source string, records []Record) (int, error) {
	d, err := s.directory("accept push", dir)
	if err != nil {
		return 0, err
	}
	valid, rejected := verifyRecords(records)

	d.mu.Lock()
	defer d.mu.Unlock()

	local, err := d.repo.Snapshot()
	if err != nil {
		return 0, err
	}
	out := Merge(s.strategy, local, valid)
	applied, err := s.apply(ctx, d, local, out.Apply)

	s.logger.Debug().
		Str("directory", string(dir)).
		Str("source", source).
		Int("offered", len(records)).
		Int("rejected", rejected).
		Int("applied", applied).
		Int("conflicts", len(out.Conflicts)).
		Msg("Accepted push")
	if err != nil {
		return applied, fmt.Errorf("apply push from %s: %w", source, err)
	}
	return applied, nil
}

// ServeEntry returns the record committed under id in dir.
func (s *Service) ServeEntry(_ context.Context, dir DirectoryID, id EntryID) (*Record, error) {
	d, err := s.directory("serve entry", dir)
	if err != nil {
		return nil, err
	}
	rec, err := d.repo.GetEntry(id)
	if err != nil {
		return nil, err
	}
	if rec.Deleted {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return rec, nil
}
