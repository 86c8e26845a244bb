// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package source

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/puzpuzpuz/xsync/v3"
)

// CursorStore persists poll cursors by source name. A missing cursor loads as nil.
type CursorStore interface {
	Load(source string) (Cursor, error)
	Save(source string, c Cursor) error
	Close() error
}

const cursorPrefix = "cursor/"

// BadgerCursorStore keeps cursors in a badger database.
type BadgerCursorStore struct {
	db *badger.DB
}

// OpenCursorStore opens the store at path. An empty path keeps it in memory.
func OpenCursorStore(path string) (*BadgerCursorStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cursor store: %w", err)
	}
	return &BadgerCursorStore{db: db}, nil
}

func (s *BadgerCursorStore) Load(source string) (Cursor, error) {
	var out Cursor
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cursorPrefix + source))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load cursor %s: %w", source, err)
	}
	return out, nil
}

func (s *BadgerCursorStore) Save(source string, c Cursor) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cursorPrefix+source), c)
	})
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", source, err)
	}
	return nil
}

func (s *BadgerCursorStore) Close() error {
	return s.db.Close()
}

// MemoryCursorStore keeps cursors in memory.
type MemoryCursorStore struct {
	m *xsync.MapOf[string, Cursor]
}

func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{m: xsync.NewMapOf[string, Cursor]()}
}

func (s *MemoryCursorStore) Load(source string) (Cursor, error) {
	c, _ := s.m.Load(source)
	return append(Cursor(nil), c...), nil
}

func (s *MemoryCursorStore) Save(source string, c Cursor) error {
	s.m.Store(source, append(Cursor(nil), c...))
	return nil
}

func (s *MemoryCursorStore) Close() error { return nil }
