// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// AddressScheme prefixes remote addresses.
const AddressScheme = "pkbnode"

// NodeHandle is the narrow capability through which the service reaches other
// devices. The service never talks to the network itself.
//
// Remotes are addressed by name (alias-shortnodeid). AddRemote must be called
// for a name before Fetch, Push or FetchEntry use it.
type NodeHandle interface {
	// Identity returns this device's node id.
	Identity() string
	// CreateRepository creates or opens the replicated repository for dir and
	// returns its repository id.
	CreateRepository(ctx context.Context, dir DirectoryID) (string, error)
	AddRemote(ctx context.Context, dir DirectoryID, name, address string) error
	RemoveRemote(ctx context.Context, dir DirectoryID, name string) error
	// Fetch returns the remote's current record of every path in dir.
	Fetch(ctx context.Context, dir DirectoryID, remote string) ([]Record, error)
	// Push offers records to the remote, which merges them with its own strategy.
	Push(ctx context.Context, dir DirectoryID, remote string, records []Record) error
	// FetchEntry returns one record by entry id, wrapping ErrNotFound if the
	// remote does not have it.
	FetchEntry(ctx context.Context, dir DirectoryID, remote string, id EntryID) (*Record, error)
}

// Peer is the serving side of a device, called by node implementations when
// another device fetches from or pushes to it. *Service implements Peer.
type Peer interface {
	ServeSnapshot(ctx context.Context, dir DirectoryID) ([]Record, error)
	AcceptPush(ctx context.Context, dir DirectoryID, source string, records []Record) (int, error)
	ServeEntry(ctx context.Context, dir DirectoryID, id EntryID) (*Record, error)
}

// ErrInvalidAddress is returned by ParseAddress.
var ErrInvalidAddress = errors.New("invalid remote address")

// Address is the capability address of one device's copy of a directory:
// scheme://repository_id?node_id.
type Address struct {
	Scheme       string
	RepositoryID string
	NodeID       string
}

// ParseAddress parses the String form of an Address.
func ParseAddress(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok || scheme == "" {
		return Address{}, fmt.Errorf("%w: %q: missing scheme", ErrInvalidAddress, s)
	}
	repo, node, ok := strings.Cut(rest, "?")
	if !ok || repo == "" || node == "" {
		return Address{}, fmt.Errorf("%w: %q: want scheme://repository_id?node_id", ErrInvalidAddress, s)
	}
	return Address{Scheme: scheme, RepositoryID: repo, NodeID: node}, nil
}

func (a Address) String() string {
	scheme := a.Scheme
	if scheme == "" {
		scheme = AddressScheme
	}
	return scheme + "://" + a.RepositoryID + "?" + a.NodeID
}

// RepositoryIDFor derives a stable repository id for dir on node. Node
// implementations without their own id scheme use it.
func RepositoryIDFor(nodeID string, dir DirectoryID) string {
	sum := sha256.Sum256([]byte(nodeID + "/" + string(dir)))
	return hex.EncodeToString(sum[:])[:24]
}
