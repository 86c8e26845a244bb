// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"sort"

	"github.com/tomtom215/pkbsync/internal/metrics"
)

// Decision is the outcome of resolving one path.
type Decision int

const (
	// KeepLocal means the local record stands (local only, or local is later).
	KeepLocal Decision = iota
	// TakeRemote means the remote record replaces the local one.
	TakeRemote
	// Identical means both sides hold the same content.
	Identical
)

func (d Decision) String() string {
	switch d {
	case KeepLocal:
		return "keep_local"
	case TakeRemote:
		return "take_remote"
	case Identical:
		return "identical"
	default:
		return "unknown"
	}
}

// Resolution is a strategy's verdict for one path.
type Resolution struct {
	Path     string
	Decision Decision
	// Loser is the discarded version when both sides differed. Only
	// populated by strategies configured to preserve losers.
	Loser *Record
}

// MergeStrategy decides, per path, which of two versions survives.
// Either side may be nil, but not both.
type MergeStrategy interface {
	Resolve(path string, local, remote *Record) (Resolution, error)
}

// LatestWins is the history-less file-level strategy: paths present on one
// side are kept, identical content is a no-op, and different content is
// settled by the later hybrid logical timestamp. No common ancestor is
// consulted, so a concurrent edit with an earlier timestamp is overwritten
// rather than merged.
type LatestWins struct {
	PreserveLosers bool
}

// Resolve implements MergeStrategy.
func (s LatestWins) Resolve(path string, local, remote *Record) (Resolution, error) {
	res := Resolution{Path: path}
	switch {
	case local == nil && remote == nil:
		return res, errors.New("resolve: both sides empty")
	case local == nil:
		res.Decision = TakeRemote
		return res, nil
	case remote == nil:
		res.Decision = KeepLocal
		return res, nil
	case local.SameContent(remote):
		res.Decision = Identical
		return res, nil
	}

	switch remote.Timestamp.Compare(local.Timestamp) {
	case 1:
		res.Decision = TakeRemote
		if s.PreserveLosers {
			loser := *local
			res.Loser = &loser
		}
	case -1:
		res.Decision = KeepLocal
		if s.PreserveLosers {
			loser := *remote
			res.Loser = &loser
		}
	default:
		return res, &MergeConflictError{Path: path, Local: local.ChunkID, Remote: remote.ChunkID}
	}
	return res, nil
}

// MergeOutcome is the plan produced by merging a local and a remote snapshot.
type MergeOutcome struct {
	// Apply holds remote records to commit locally.
	Apply []Record
	// Push holds local records the remote is missing or holds an older version of.
	Push      []Record
	Identical int
	Losers    []Record
	// Conflicts are left untouched on both sides.
	Conflicts []*MergeConflictError
}

// Merge resolves the union of paths of two snapshots with strategy.
// Neither input is modified.
func Merge(strategy MergeStrategy, local, remote []Record) MergeOutcome {
	return merge(strategy, local, remote, true)
}

// merge is Merge with optional decision metrics; the push plan of a sync
// re-merges snapshots that were already counted.
func merge(strategy MergeStrategy, local, remote []Record, record bool) MergeOutcome {
	localByPath := make(map[string]*Record, len(local))
	for i := range local {
		localByPath[local[i].Path] = &local[i]
	}
	remoteByPath := make(map[string]*Record, len(remote))
	for i := range remote {
		remoteByPath[remote[i].Path] = &remote[i]
	}

	paths := make([]string, 0, len(localByPath)+len(remoteByPath))
	for p := range localByPath {
		paths = append(paths, p)
	}
	for p := range remoteByPath {
		if _, ok := localByPath[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var out MergeOutcome
	for _, p := range paths {
		l, r := localByPath[p], remoteByPath[p]
		res, err := strategy.Resolve(p, l, r)
		if err != nil {
			var conflict *MergeConflictError
			if errors.As(err, &conflict) {
				out.Conflicts = append(out.Conflicts, conflict)
				if record {
					metrics.RecordMergeDecision("conflict")
				}
			}
			continue
		}
		if record {
			metrics.RecordMergeDecision(res.Decision.String())
		}

		switch res.Decision {
		case TakeRemote:
			out.Apply = append(out.Apply, *r)
		case KeepLocal:
			out.Push = append(out.Push, *l)
		case Identical:
			out.Identical++
		}
		if res.Loser != nil {
			out.Losers = append(out.Losers, *res.Loser)
		}
	}
	return out
}
