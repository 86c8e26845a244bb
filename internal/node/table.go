// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package node

import (
	"fmt"
	"sync"

	"github.com/tomtom215/pkbsync/internal/pkb"
)

// table holds the repositories and remote bindings of one node. Every
// transport shares it.
type table struct {
	id string

	mu      sync.RWMutex
	repos   map[pkb.DirectoryID]string
	remotes map[pkb.DirectoryID]map[string]pkb.Address
}

func newTable(nodeID string) *table {
	return &table{
		id:      nodeID,
		repos:   make(map[pkb.DirectoryID]string),
		remotes: make(map[pkb.DirectoryID]map[string]pkb.Address),
	}
}

func (t *table) createRepository(dir pkb.DirectoryID) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.repos[dir]; ok {
		return id
	}
	id := pkb.RepositoryIDFor(t.id, dir)
	t.repos[dir] = id
	return id
}

func (t *table) addRemote(dir pkb.DirectoryID, name, address string) error {
	addr, err := pkb.ParseAddress(address)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.remotes[dir] == nil {
		t.remotes[dir] = make(map[string]pkb.Address)
	}
	t.remotes[dir][name] = addr
	return nil
}

func (t *table) removeRemote(dir pkb.DirectoryID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.remotes[dir][name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRemote, name)
	}
	delete(t.remotes[dir], name)
	return nil
}

func (t *table) lookup(dir pkb.DirectoryID, name string) (pkb.Address, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	addr, ok := t.remotes[dir][name]
	if !ok {
		return pkb.Address{}, fmt.Errorf("%w: %s", ErrUnknownRemote, name)
	}
	return addr, nil
}

func cloneRecords(in []pkb.Record) []pkb.Record {
	out := make([]pkb.Record, len(in))
	for i, r := range in {
		r.Data = append([]byte(nil), r.Data...)
		out[i] = r
	}
	return out
}
