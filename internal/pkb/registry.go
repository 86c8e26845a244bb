// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/renameio"
)

const registryVersion = 1

// RemoteBinding pairs a directory with the same directory on another device.
type RemoteBinding struct {
	DeviceAlias string    `json:"device_alias"`
	NodeID      string    `json:"node_id"`
	Address     string    `json:"address"`
	AddedAt     time.Time `json:"added_at"`
}

// Name is the remote name used by the node handle: alias-shortnodeid.
func (b RemoteBinding) Name() string {
	return RemoteName(b.DeviceAlias, b.NodeID)
}

// RemoteName builds a remote name from a device alias and node id.
func RemoteName(alias, nodeID string) string {
	return alias + "-" + ShortNodeID(nodeID)
}

// ShortNodeID returns the first 8 characters of a node id.
func ShortNodeID(nodeID string) string {
	if len(nodeID) > 8 {
		return nodeID[:8]
	}
	return nodeID
}

// DirectoryMeta is the registry record of one directory.
type DirectoryMeta struct {
	ID           DirectoryID     `json:"id"`
	Location     string          `json:"location"`
	RepositoryID string          `json:"repository_id"`
	CreatedAt    time.Time       `json:"created_at"`
	Remotes      []RemoteBinding `json:"remotes,omitempty"`
}

func (m DirectoryMeta) clone() DirectoryMeta {
	m.Remotes = append([]RemoteBinding(nil), m.Remotes...)
	return m
}

type registryFile struct {
	Version     int             `json:"version"`
	NodeID      string          `json:"node_id,omitempty"`
	Directories []DirectoryMeta `json:"directories"`
}

// Registry is the persistent list of directories and their remote bindings.
// Every mutation rewrites the file atomically.
type Registry struct {
	mu   sync.RWMutex
	path string
	data registryFile
}

// OpenRegistry loads the registry at path, creating an empty one if absent.
func OpenRegistry(path string) (*Registry, error) {
	r := &Registry{path: path, data: registryFile{Version: registryVersion}}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, storageErr("open registry", "", err)
		}
		return r, nil
	case err != nil:
		return nil, storageErr("open registry", "", err)
	}

	if err := json.Unmarshal(raw, &r.data); err != nil {
		return nil, storageErr("open registry", "", fmt.Errorf("parse %s: %w", path, err))
	}
	if r.data.Version > registryVersion {
		return nil, storageErr("open registry", "", fmt.Errorf("registry version %d is newer than supported %d", r.data.Version, registryVersion))
	}
	return r, nil
}

// Path returns the registry file location.
func (r *Registry) Path() string { return r.path }

// NodeID returns the persisted node id, or "" if none was stored.
func (r *Registry) NodeID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.NodeID
}

// EnsureNodeID returns the stored node id, storing generate() first if none exists.
func (r *Registry) EnsureNodeID(generate func() string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.data.NodeID != "" {
		return r.data.NodeID, nil
	}
	next := r.copyLocked()
	next.NodeID = generate()
	if err := r.commitLocked(next); err != nil {
		return "", err
	}
	return next.NodeID, nil
}

// Get returns the directory record.
func (r *Registry) Get(id DirectoryID) (DirectoryMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if i := r.indexLocked(id); i >= 0 {
		return r.data.Directories[i].clone(), true
	}
	return DirectoryMeta{}, false
}

// List returns all directories sorted by id.
func (r *Registry) List() []DirectoryMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]DirectoryMeta, len(r.data.Directories))
	for i, m := range r.data.Directories {
		out[i] = m.clone()
	}
	return out
}

// Register adds meta unless its id already exists. It returns the stored
// record and whether it was created by this call.
func (r *Registry) Register(meta DirectoryMeta) (DirectoryMeta, bool, error) {
	if err := meta.ID.Validate(); err != nil {
		return DirectoryMeta{}, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if i := r.indexLocked(meta.ID); i >= 0 {
		return r.data.Directories[i].clone(), false, nil
	}
	next := r.copyLocked()
	next.Directories = append(next.Directories, meta.clone())
	sort.Slice(next.Directories, func(i, j int) bool { return next.Directories[i].ID < next.Directories[j].ID })
	if err := r.commitLocked(next); err != nil {
		return DirectoryMeta{}, false, storageErr("register", meta.ID, err)
	}
	return meta.clone(), true, nil
}

// Remove deletes the directory record.
func (r *Registry) Remove(id DirectoryID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return storageErr("remove", id, ErrNotFound)
	}
	next := r.copyLocked()
	next.Directories = append(next.Directories[:i], next.Directories[i+1:]...)
	return storageErr("remove", id, r.commitLocked(next))
}

// AddRemote binds a remote to a directory, replacing a binding with the same name.
func (r *Registry) AddRemote(id DirectoryID, binding RemoteBinding) error {
	return r.update(id, "add remote", func(m *DirectoryMeta) error {
		for i, b := range m.Remotes {
			if b.Name() == binding.Name() {
				m.Remotes[i] = binding
				return nil
			}
		}
		m.Remotes = append(m.Remotes, binding)
		return nil
	})
}

// RemoveRemote unbinds the named remote and returns its binding.
func (r *Registry) RemoveRemote(id DirectoryID, name string) (RemoteBinding, error) {
	var removed RemoteBinding
	err := r.update(id, "remove remote", func(m *DirectoryMeta) error {
		for i, b := range m.Remotes {
			if b.Name() == name {
				removed = b
				m.Remotes = append(m.Remotes[:i], m.Remotes[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("remote %s: %w", name, ErrNotFound)
	})
	return removed, err
}

// Remotes returns the remote bindings of a directory.
func (r *Registry) Remotes(id DirectoryID) ([]RemoteBinding, error) {
	meta, ok := r.Get(id)
	if !ok {
		return nil, storageErr("list remotes", id, ErrNotFound)
	}
	return meta.Remotes, nil
}

func (r *Registry) update(id DirectoryID, op string, fn func(*DirectoryMeta) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(id)
	if i < 0 {
		return storageErr(op, id, ErrNotFound)
	}
	next := r.copyLocked()
	if err := fn(&next.Directories[i]); err != nil {
		return storageErr(op, id, err)
	}
	return storageErr(op, id, r.commitLocked(next))
}

func (r *Registry) indexLocked(id DirectoryID) int {
	for i := range r.data.Directories {
		if r.data.Directories[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Registry) copyLocked() registryFile {
	next := registryFile{Version: registryVersion, NodeID: r.data.NodeID}
	next.Directories = make([]DirectoryMeta, len(r.data.Directories))
	for i, m := range r.data.Directories {
		next.Directories[i] = m.clone()
	}
	return next
}

// commitLocked persists next and swaps it in only after the write succeeded.
func (r *Registry) commitLocked(next registryFile) error {
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(r.path, raw, 0o600); err != nil {
		return err
	}
	r.data = next
	return nil
}
