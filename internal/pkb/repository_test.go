// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"path/filepath"
	"testing"
)

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := OpenRepository("notes", "", RepositoryOptions{InMemory: true})
	if err != nil {
		t.Fatalf("OpenRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestRepository_CommitAndGet(t *testing.T) {
	repo := openTestRepo(t)
	first := testRecord(t, "a.md", "one", 100, "dev1")
	second := testRecord(t, "a.md", "two", 200, "dev1")

	for i, rec := range []Record{first, second} {
		seq, err := repo.Commit(&rec)
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if seq != uint64(i+1) {
			t.Errorf("seq = %d, want %d", seq, i+1)
		}
	}

	cur, err := repo.Get("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if cur.ChunkID != second.ChunkID {
		t.Errorf("current chunk = %s, want %s", cur.ChunkID, second.ChunkID)
	}

	// The superseded entry stays addressable by id.
	old, err := repo.GetEntry(first.EntryID)
	if err != nil {
		t.Fatal(err)
	}
	if old.ChunkID != first.ChunkID {
		t.Errorf("GetEntry chunk = %s, want %s", old.ChunkID, first.ChunkID)
	}

	if _, err := repo.Get("missing.md"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing: err = %v", err)
	}
	if _, err := repo.GetEntry("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetEntry missing: err = %v", err)
	}
}

func TestRepository_ArchiveKeepsCurrent(t *testing.T) {
	repo := openTestRepo(t)
	current := testRecord(t, "a.md", "new", 200, "dev1")
	older := testRecord(t, "a.md", "old", 100, "dev2")

	if _, err := repo.Commit(&current); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Archive(&older); err != nil {
		t.Fatal(err)
	}

	cur, err := repo.Get("a.md")
	if err != nil {
		t.Fatal(err)
	}
	if cur.EntryID != current.EntryID {
		t.Errorf("Archive replaced the current record")
	}
	if _, err := repo.GetEntry(older.EntryID); err != nil {
		t.Errorf("archived entry not addressable: %v", err)
	}
	if seq, _ := repo.Seq(); seq != 2 {
		t.Errorf("Seq = %d, want 2", seq)
	}
}

func TestRepository_SnapshotSortedWithTombstones(t *testing.T) {
	repo := openTestRepo(t)
	for _, rec := range []Record{
		testRecord(t, "c.md", "c", 100, "dev1"),
		testRecord(t, "a.md", "a", 100, "dev1"),
		tombstone("b.md", 100, "dev1"),
	} {
		if _, err := repo.Commit(&rec); err != nil {
			t.Fatal(err)
		}
	}

	snap, err := repo.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	got := paths(snap)
	want := []string{"a.md", "b.md", "c.md"}
	if len(got) != len(want) {
		t.Fatalf("Snapshot paths = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Snapshot[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if !snap[1].Deleted {
		t.Error("tombstone lost its Deleted flag")
	}
}

func TestRepository_ClosedRejectsCommit(t *testing.T) {
	repo, err := OpenRepository("notes", filepath.Join(t.TempDir(), "notes"), RepositoryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Close(); err != nil {
		t.Fatal(err)
	}
	rec := testRecord(t, "a.md", "a", 1, "dev1")
	if _, err := repo.Commit(&rec); !errors.Is(err, ErrClosed) {
		t.Errorf("Commit after Close: err = %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
