// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/tomtom215/pkbsync/internal/config"
	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/node"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

// core is the part of the daemon every command needs: the event bus, the
// node transport and the PKB service on top of them.
type core struct {
	cfg  *config.Config
	bus  *eventbus.Bus
	svc  *pkb.Service
	node *transport
}

// transport is the node handle plus whatever must be served or closed with it.
type transport struct {
	handle pkb.NodeHandle

	// Set when the NATS transport is used.
	nats   *node.NATS
	conn   interface{ Close() }
	server *node.EmbeddedServer

	// Set for the loopback transport.
	network *node.Network
}

// openCore opens the service with the configured transport. Callers own
// the result and must call close.
func openCore(ctx context.Context, cfg *config.Config) (*core, error) {
	nodeID, err := pkb.LoadNodeID(cfg.PKB.BasePath, cfg.PKB.NodeID, uuid.NewString)
	if err != nil {
		return nil, fmt.Errorf("load node id: %w", err)
	}

	tr, err := openTransport(cfg, nodeID)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	svc, err := pkb.Open(ctx, pkb.Options{
		BasePath:           cfg.PKB.BasePath,
		DeviceAlias:        cfg.PKB.DeviceAlias,
		URLScheme:          cfg.PKB.URLScheme,
		Strategy:           pkb.LatestWins{PreserveLosers: cfg.Sync.PreserveLosers},
		SyncTimeout:        cfg.Sync.Timeout,
		MaxParallelRemotes: cfg.Sync.MaxParallelRemotes,
		Breaker: pkb.BreakerSettings{
			Failures: cfg.Sync.BreakerFailures,
			Timeout:  cfg.Sync.BreakerTimeout,
		},
	}, tr.handle, bus)
	if err != nil {
		bus.Close()
		tr.close(ctx)
		return nil, fmt.Errorf("open knowledge base: %w", err)
	}
	if tr.network != nil {
		tr.network.Attach(nodeID, svc)
	}

	for _, name := range cfg.PKB.DefaultDirectories {
		if _, err := svc.CreateRepository(ctx, name); err != nil {
			logging.Warn().Err(err).Str("directory", name).Msg("Failed to create default directory")
		}
	}

	logging.Info().
		Str("node_id", nodeID).
		Str("device_alias", cfg.PKB.DeviceAlias).
		Int("directories", len(svc.Directories())).
		Bool("nats", tr.nats != nil).
		Msg("Knowledge base opened")

	return &core{cfg: cfg, bus: bus, svc: svc, node: tr}, nil
}

// close closes the service, then the bus, then the transport. Event
// consumers see their channels close after the last commit.
func (c *core) close(ctx context.Context) error {
	err := c.svc.Close()
	c.bus.Close()
	c.node.close(ctx)
	return err
}

func openTransport(cfg *config.Config, nodeID string) (*transport, error) {
	if !cfg.NATS.Enabled {
		network := node.NewNetwork()
		return &transport{handle: network.Node(nodeID), network: network}, nil
	}

	tr := &transport{}
	serverURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		host, port, err := splitNATSURL(cfg.NATS.URL)
		if err != nil {
			return nil, err
		}
		srv, err := node.NewEmbeddedServer(host, port, cfg.NATS.StoreDir)
		if err != nil {
			if errors.Is(err, node.ErrNATSUnavailable) {
				return nil, fmt.Errorf("nats.enabled is set but this binary was built without -tags nats: %w", err)
			}
			return nil, err
		}
		tr.server = srv
		serverURL = srv.ClientURL()
		logging.Info().Str("url", serverURL).Msg("Embedded NATS server started")
	}

	nc, err := node.Connect(serverURL, logging.WithComponent("nats"))
	if err != nil {
		tr.close(context.Background())
		if errors.Is(err, node.ErrNATSUnavailable) {
			return nil, fmt.Errorf("nats.enabled is set but this binary was built without -tags nats: %w", err)
		}
		return nil, err
	}
	tr.conn = nc
	tr.nats = node.NewNATS(nc, nodeID, node.NATSOptions{
		Prefix:  cfg.NATS.SubjectPrefix,
		Timeout: cfg.NATS.RequestTimeout,
	})
	tr.handle = tr.nats
	return tr, nil
}

// natsURL returns the URL clients should dial, preferring the embedded server.
func (t *transport) natsURL(cfg *config.Config) string {
	if t.server != nil {
		return t.server.ClientURL()
	}
	return cfg.NATS.URL
}

func (t *transport) close(ctx context.Context) {
	if t.nats != nil {
		_ = t.nats.Close()
	}
	if t.conn != nil {
		t.conn.Close()
	}
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS server did not stop cleanly")
		}
	}
}

// splitNATSURL extracts the listen address for the embedded server. An
// empty URL listens on a free loopback port.
func splitNATSURL(raw string) (string, int, error) {
	if raw == "" {
		return "127.0.0.1", -1, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", 0, fmt.Errorf("parse nats.url: %w", err)
	}
	port := 4222
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("parse nats.url port: %w", err)
		}
	}
	return u.Hostname(), port, nil
}
