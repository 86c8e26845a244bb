// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout inside one repository:
//
//	f/<path>     current Record for path (tombstones included)
//	c/<seq>      every committed Record, seq big-endian
//	e/<entry id> seq of the commit that created the entry
//	m/seq        last issued seq
const (
	prefixFile   = "f/"
	prefixCommit = "c/"
	prefixEntry  = "e/"
	keySeq       = "m/seq"
)

// RepositoryOptions tunes the badger store.
type RepositoryOptions struct {
	// InMemory keeps the repository in memory only. Used by tests.
	InMemory   bool
	SyncWrites bool
}

// Repository is the append-only store of one directory. Commits are
// serialized; reads are concurrent.
type Repository struct {
	dir DirectoryID
	db  *badger.DB

	writeMu sync.Mutex
	closed  bool
}

// OpenRepository opens (or creates) the repository for dir at path.
func OpenRepository(dir DirectoryID, path string, opts RepositoryOptions) (*Repository, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(path)
		bopts.SyncWrites = opts.SyncWrites
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, storageErr("open repository", dir, err)
	}
	return &Repository{dir: dir, db: db}, nil
}

// Directory returns the directory this repository backs.
func (r *Repository) Directory() DirectoryID { return r.dir }

// Get returns the current record at path, tombstones included.
func (r *Repository) Get(path string) (*Record, error) {
	var rec *Record
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readRecord(txn, []byte(prefixFile+path))
		return err
	})
	if err != nil {
		return nil, storageErr("get", r.dir, err)
	}
	return rec, nil
}

// GetEntry returns the record committed under entry id, even if a later
// commit superseded it at its path.
func (r *Repository) GetEntry(id EntryID) (*Record, error) {
	var rec *Record
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixEntry + string(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("entry %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		seqKey, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = readRecord(txn, seqKey)
		return err
	})
	if err != nil {
		return nil, storageErr("get entry", r.dir, err)
	}
	return rec, nil
}

// Commit appends rec and makes it the current record of its path. It
// returns the commit sequence number.
func (r *Repository) Commit(rec *Record) (uint64, error) {
	return r.commit("commit", rec, true)
}

// Archive appends rec without touching the current record of its path, so
// an older entry fetched by id stays addressable without winning its path.
func (r *Repository) Archive(rec *Record) (uint64, error) {
	return r.commit("archive", rec, false)
}

func (r *Repository) commit(op string, rec *Record, current bool) (uint64, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return 0, &EncodingError{ContentType: rec.ContentType, Err: err}
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed {
		return 0, storageErr(op, r.dir, ErrClosed)
	}

	var seq uint64
	err = r.db.Update(func(txn *badger.Txn) error {
		last, err := readSeq(txn)
		if err != nil {
			return err
		}
		seq = last + 1
		commitKey := seqKey(seq)

		if err := txn.Set(commitKey, raw); err != nil {
			return err
		}
		if current {
			if err := txn.Set([]byte(prefixFile+rec.Path), raw); err != nil {
				return err
			}
		}
		if err := txn.Set([]byte(prefixEntry+string(rec.EntryID)), commitKey); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], seq)
		return txn.Set([]byte(keySeq), buf[:])
	})
	if err != nil {
		return 0, storageErr(op, r.dir, err)
	}
	return seq, nil
}

// Snapshot returns the current record of every path, sorted by path.
func (r *Repository) Snapshot() ([]Record, error) {
	var out []Record
	err := r.Scan(func(rec *Record) error {
		out = append(out, *rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Scan calls fn for the current record of every path, tombstones included.
func (r *Repository) Scan(fn func(*Record) error) error {
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixFile)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			if err := fn(&rec); err != nil {
				return err
			}
		}
		return nil
	})
	return storageErr("scan", r.dir, err)
}

// Seq returns the last commit sequence number.
func (r *Repository) Seq() (uint64, error) {
	var seq uint64
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		seq, err = readSeq(txn)
		return err
	})
	return seq, storageErr("seq", r.dir, err)
}

// Close flushes and closes the store. Further commits fail.
func (r *Repository) Close() error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return storageErr("close", r.dir, r.db.Close())
}

func seqKey(seq uint64) []byte {
	key := make([]byte, len(prefixCommit)+8)
	copy(key, prefixCommit)
	binary.BigEndian.PutUint64(key[len(prefixCommit):], seq)
	return key
}

func readSeq(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get([]byte(keySeq))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var seq uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("corrupt sequence value (%d bytes)", len(val))
		}
		seq = binary.BigEndian.Uint64(val)
		return nil
	})
	return seq, err
}

func readRecord(txn *badger.Txn, key []byte) (*Record, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}
