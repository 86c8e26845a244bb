// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRegistry_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".pkb", "directories.json")

	reg, err := OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	nodeID, err := reg.EnsureNodeID(func() string { return "node-123456789" })
	if err != nil {
		t.Fatal(err)
	}
	meta, created, err := reg.Register(DirectoryMeta{ID: "notes", Location: "notes", RepositoryID: "r1", CreatedAt: time.Now().UTC()})
	if err != nil || !created {
		t.Fatalf("Register = %+v, %v, %v", meta, created, err)
	}
	binding := RemoteBinding{DeviceAlias: "phone", NodeID: "node-987654321", Address: "pkbnode://r2?node-987654321"}
	if err := reg.AddRemote("notes", binding); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.NodeID() != nodeID {
		t.Errorf("NodeID = %q, want %q", reopened.NodeID(), nodeID)
	}
	got, ok := reopened.Get("notes")
	if !ok {
		t.Fatal("notes missing after reopen")
	}
	if len(got.Remotes) != 1 || got.Remotes[0].Name() != "phone-node-987" {
		t.Errorf("Remotes = %+v", got.Remotes)
	}
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "directories.json"))
	if err != nil {
		t.Fatal(err)
	}
	first, created, err := reg.Register(DirectoryMeta{ID: "media", RepositoryID: "first"})
	if err != nil || !created {
		t.Fatalf("first Register: created=%v err=%v", created, err)
	}
	second, created, err := reg.Register(DirectoryMeta{ID: "media", RepositoryID: "second"})
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second Register reported created")
	}
	if second.RepositoryID != first.RepositoryID {
		t.Errorf("RepositoryID = %s, want %s", second.RepositoryID, first.RepositoryID)
	}
	if n := len(reg.List()); n != 1 {
		t.Errorf("List has %d directories, want 1", n)
	}
}

func TestRegistry_Errors(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "directories.json"))
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := reg.Register(DirectoryMeta{ID: "Bad Name"}); !errors.Is(err, ErrInvalidDirectory) {
		t.Errorf("invalid name: err = %v", err)
	}
	if err := reg.Remove("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove missing: err = %v", err)
	}
	if _, _, err := reg.Register(DirectoryMeta{ID: "notes"}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RemoveRemote("notes", "ghost-12345678"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveRemote missing: err = %v", err)
	}
	var se *StorageError
	if _, err := reg.Remotes("missing"); !errors.As(err, &se) {
		t.Errorf("Remotes missing: err = %v, want *StorageError", err)
	}
}

func TestRegistry_AddRemoteReplacesSameName(t *testing.T) {
	reg, err := OpenRegistry(filepath.Join(t.TempDir(), "directories.json"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := reg.Register(DirectoryMeta{ID: "notes"}); err != nil {
		t.Fatal(err)
	}
	b := RemoteBinding{DeviceAlias: "phone", NodeID: "abcdefgh-1", Address: "pkbnode://r?abcdefgh-1"}
	if err := reg.AddRemote("notes", b); err != nil {
		t.Fatal(err)
	}
	b.Address = "pkbnode://r2?abcdefgh-1"
	if err := reg.AddRemote("notes", b); err != nil {
		t.Fatal(err)
	}
	remotes, _ := reg.Remotes("notes")
	if len(remotes) != 1 || remotes[0].Address != b.Address {
		t.Errorf("Remotes = %+v", remotes)
	}
	removed, err := reg.RemoveRemote("notes", b.Name())
	if err != nil || removed.Address != b.Address {
		t.Errorf("RemoveRemote = %+v, %v", removed, err)
	}
}

func TestOpenRegistry_RejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directories.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	var se *StorageError
	if _, err := OpenRegistry(path); !errors.As(err, &se) {
		t.Errorf("err = %v, want *StorageError", err)
	}
}
