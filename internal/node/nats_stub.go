// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

//go:build !nats

package node

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/pkb"
)

// NATSOptions configures a NATS node.
type NATSOptions struct {
	Prefix  string
	Timeout time.Duration
}

// Conn stands in for *nats.Conn when NATS support is compiled out.
type Conn struct{}

// Close is a no-op stub.
func (*Conn) Close() {}

// NATS is a stub when NATS dependencies are not available.
// Build with -tags=nats to enable the NATS transport.
type NATS struct{}

// Connect returns ErrNATSUnavailable.
func Connect(url string, logger zerolog.Logger) (*Conn, error) {
	return nil, ErrNATSUnavailable
}

// NewNATS returns a stub whose operations fail with ErrNATSUnavailable.
func NewNATS(nc *Conn, nodeID string, opts NATSOptions) *NATS { return &NATS{} }

func (*NATS) Identity() string          { return "" }
func (*NATS) Serve(peer pkb.Peer) error { return ErrNATSUnavailable }
func (*NATS) Close() error              { return nil }

func (*NATS) CreateRepository(context.Context, pkb.DirectoryID) (string, error) {
	return "", ErrNATSUnavailable
}

func (*NATS) AddRemote(context.Context, pkb.DirectoryID, string, string) error {
	return ErrNATSUnavailable
}

func (*NATS) RemoveRemote(context.Context, pkb.DirectoryID, string) error {
	return ErrNATSUnavailable
}

func (*NATS) Fetch(context.Context, pkb.DirectoryID, string) ([]pkb.Record, error) {
	return nil, ErrNATSUnavailable
}

func (*NATS) Push(context.Context, pkb.DirectoryID, string, []pkb.Record) error {
	return ErrNATSUnavailable
}

func (*NATS) FetchEntry(context.Context, pkb.DirectoryID, string, pkb.EntryID) (*pkb.Record, error) {
	return nil, ErrNATSUnavailable
}

// EmbeddedServer is a stub when NATS dependencies are not available.
type EmbeddedServer struct{}

// NewEmbeddedServer returns ErrNATSUnavailable.
func NewEmbeddedServer(host string, port int, storeDir string) (*EmbeddedServer, error) {
	return nil, ErrNATSUnavailable
}

// ClientURL returns an empty string for the stub.
func (*EmbeddedServer) ClientURL() string { return "" }

// Shutdown is a no-op stub.
func (*EmbeddedServer) Shutdown(ctx context.Context) error { return nil }

// IsRunning always returns false for the stub.
func (*EmbeddedServer) IsRunning() bool { return false }
