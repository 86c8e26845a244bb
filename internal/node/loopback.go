// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/tomtom215/pkbsync/internal/pkb"
)

// Network connects Loopback nodes inside one process.
type Network struct {
	mu      sync.RWMutex
	peers   map[string]pkb.Peer
	offline map[string]bool
}

// NewNetwork creates an empty network.
func NewNetwork() *Network {
	return &Network{
		peers:   make(map[string]pkb.Peer),
		offline: make(map[string]bool),
	}
}

// Node returns a handle for nodeID on this network.
func (n *Network) Node(nodeID string) *Loopback {
	return &Loopback{net: n, table: newTable(nodeID)}
}

// Attach makes peer reachable as nodeID.
func (n *Network) Attach(nodeID string, peer pkb.Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[nodeID] = peer
}

// Detach removes nodeID from the network.
func (n *Network) Detach(nodeID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.peers, nodeID)
}

// SetOffline simulates a device dropping off the network.
func (n *Network) SetOffline(nodeID string, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[nodeID] = offline
}

func (n *Network) peer(nodeID string) (pkb.Peer, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	p, ok := n.peers[nodeID]
	if !ok || n.offline[nodeID] {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, nodeID)
	}
	return p, nil
}

// Loopback is an in-process pkb.NodeHandle. Records are copied on every
// exchange so devices never share memory.
type Loopback struct {
	net *Network
	*table
}

var _ pkb.NodeHandle = (*Loopback)(nil)

// Identity implements pkb.NodeHandle.
func (l *Loopback) Identity() string { return l.id }

// CreateRepository implements pkb.NodeHandle.
func (l *Loopback) CreateRepository(_ context.Context, dir pkb.DirectoryID) (string, error) {
	return l.createRepository(dir), nil
}

// AddRemote implements pkb.NodeHandle.
func (l *Loopback) AddRemote(_ context.Context, dir pkb.DirectoryID, name, address string) error {
	return l.addRemote(dir, name, address)
}

// RemoveRemote implements pkb.NodeHandle.
func (l *Loopback) RemoveRemote(_ context.Context, dir pkb.DirectoryID, name string) error {
	return l.removeRemote(dir, name)
}

func (l *Loopback) resolve(ctx context.Context, dir pkb.DirectoryID, name string) (pkb.Peer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	addr, err := l.lookup(dir, name)
	if err != nil {
		return nil, err
	}
	return l.net.peer(addr.NodeID)
}

// Fetch implements pkb.NodeHandle.
func (l *Loopback) Fetch(ctx context.Context, dir pkb.DirectoryID, remote string) ([]pkb.Record, error) {
	peer, err := l.resolve(ctx, dir, remote)
	if err != nil {
		return nil, err
	}
	records, err := peer.ServeSnapshot(ctx, dir)
	if err != nil {
		return nil, err
	}
	return cloneRecords(records), nil
}

// Push implements pkb.NodeHandle.
func (l *Loopback) Push(ctx context.Context, dir pkb.DirectoryID, remote string, records []pkb.Record) error {
	peer, err := l.resolve(ctx, dir, remote)
	if err != nil {
		return err
	}
	_, err = peer.AcceptPush(ctx, dir, l.id, cloneRecords(records))
	return err
}

// FetchEntry implements pkb.NodeHandle.
func (l *Loopback) FetchEntry(ctx context.Context, dir pkb.DirectoryID, remote string, id pkb.EntryID) (*pkb.Record, error) {
	peer, err := l.resolve(ctx, dir, remote)
	if err != nil {
		return nil, err
	}
	rec, err := peer.ServeEntry(ctx, dir, id)
	if err != nil {
		return nil, err
	}
	c := cloneRecords([]pkb.Record{*rec})[0]
	return &c, nil
}
