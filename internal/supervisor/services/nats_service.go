// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/pkbsync/internal/pkb"
)

// NATSNode is the serving side of node.NATS.
type NATSNode interface {
	Serve(peer pkb.Peer) error
	Close() error
}

// NATSServer is the lifecycle subset of node.EmbeddedServer.
type NATSServer interface {
	Shutdown(ctx context.Context) error
}

// NATSNodeService answers snapshot, push and entry requests from peer
// devices for as long as it runs. When an embedded server is given it is
// shut down after the node unsubscribes.
type NATSNodeService struct {
	node            NATSNode
	peer            pkb.Peer
	server          NATSServer
	shutdownTimeout time.Duration
}

// NewNATSNodeService wraps node. server may be nil when an external broker is used.
func NewNATSNodeService(node NATSNode, peer pkb.Peer, server NATSServer, shutdownTimeout time.Duration) *NATSNodeService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &NATSNodeService{node: node, peer: peer, server: server, shutdownTimeout: shutdownTimeout}
}

func (s *NATSNodeService) Serve(ctx context.Context) error {
	if err := s.node.Serve(s.peer); err != nil {
		return fmt.Errorf("NATS node serve failed: %w", err)
	}

	<-ctx.Done()

	if err := s.node.Close(); err != nil {
		return fmt.Errorf("NATS node close failed: %w", err)
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("NATS server shutdown failed: %w", err)
		}
	}
	return ctx.Err()
}

func (s *NATSNodeService) String() string { return "nats-node" }
