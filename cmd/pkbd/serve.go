// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/spf13/cobra"

	"github.com/tomtom215/pkbsync/internal/api"
	"github.com/tomtom215/pkbsync/internal/cache"
	"github.com/tomtom215/pkbsync/internal/config"
	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/eventbus"
	"github.com/tomtom215/pkbsync/internal/indexer"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/pkb"
	"github.com/tomtom215/pkbsync/internal/source"
	"github.com/tomtom215/pkbsync/internal/supervisor"
	"github.com/tomtom215/pkbsync/internal/supervisor/services"
)

// actorBootTimeout bounds the wait for the database before sources start.
const actorBootTimeout = 30 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization daemon",
		Long: `Run the daemon under a supervisor tree:

  storage   database actor
  pipeline  event indexer, event forwarders, event stream, source poller
  sync      periodic sync scheduler, NATS node (nats.enabled)
  api       admin HTTP server (server.enabled)

SIGINT or SIGTERM stops every layer; queued database commands finish first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
					cancel()
				case <-ctx.Done():
				}
			}()

			return runDaemon(ctx, c)
		},
	}
}

// daemon holds everything serve starts, in shutdown order.
type daemon struct {
	core    *core
	actor   *dbactor.Actor
	manager *source.Manager
	cursors *source.BadgerCursorStore
	poller  *source.Poller
	pubs    []message.Publisher
	tree    *supervisor.SupervisorTree
}

//nolint:gocyclo // Sequential wiring of every component
func runDaemon(ctx context.Context, c *cli) error {
	cfg := c.cfg
	logging.Info().
		Str("base_path", cfg.PKB.BasePath).
		Str("db_driver", cfg.Database.Driver).
		Str("db_path", cfg.Database.Path).
		Bool("server", cfg.Server.Enabled).
		Bool("nats", cfg.NATS.Enabled).
		Msg("Starting pkbd with supervisor tree")

	app, err := openCore(ctx, cfg)
	if err != nil {
		return err
	}
	d := &daemon{core: app}
	defer d.shutdown()

	// === STORAGE AND PIPELINE ===

	d.actor = dbactor.New(dbactor.FromConfig(cfg.Database))

	// The indexer subscribes in New, before anything can emit.
	ix := indexer.New(app.bus, d.actor.Handle(), cfg.Events.SubscriberBuffer)

	var hub *api.Hub
	var forwarders []*eventbus.Forwarder
	if cfg.Server.Enabled {
		local := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: int64(cfg.Events.SubscriberBuffer)},
			logging.NewWatermillAdapter())
		d.pubs = append(d.pubs, local)

		fwd := eventbus.NewForwarder(app.bus, local, cfg.Events.ForwardTopic, cfg.Events.SubscriberBuffer)
		pkb.ForwardAll(fwd)
		forwarders = append(forwarders, fwd)
		hub = api.NewHub(local, cfg.Events.ForwardTopic)
	}
	if cfg.Events.ForwardEnabled && cfg.NATS.Enabled {
		pub, err := eventbus.NewNATSPublisher(app.node.natsURL(cfg), logging.NewWatermillAdapter())
		if err != nil {
			return fmt.Errorf("event forwarding: %w", err)
		}
		d.pubs = append(d.pubs, pub)

		fwd := eventbus.NewForwarder(app.bus, pub, cfg.Events.ForwardTopic, cfg.Events.SubscriberBuffer)
		pkb.ForwardAll(fwd)
		forwarders = append(forwarders, fwd)
		logging.Info().Str("topic", cfg.Events.ForwardTopic).Msg("Forwarding events to NATS")
	} else if cfg.Events.ForwardEnabled {
		logging.Warn().Msg("events.forward_enabled needs nats.enabled; events are only streamed locally")
	}

	// === SOURCES ===

	d.cursors, err = source.OpenCursorStore(cfg.ResolvedCursorPath())
	if err != nil {
		return fmt.Errorf("open cursor store: %w", err)
	}
	d.poller = source.NewPoller(d.cursors, cfg.Ingest.PollInterval, cfg.Ingest.PollRate)
	seen := cache.NewRecencyCache(cfg.Ingest.DedupCapacity, cfg.Ingest.DedupWindow)
	d.manager = source.NewManager(source.ManagerOptions{
		Service:   app.svc,
		Seen:      seen,
		Poller:    d.poller,
		Recorder:  d.actor.Handle(),
		GroupSize: cfg.Ingest.BatchGroupSize,
	})

	// === SUPERVISOR TREE ===

	d.tree, err = supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.FromConfig(cfg.Supervisor))
	if err != nil {
		return fmt.Errorf("create supervisor tree: %w", err)
	}
	shutdownTimeout := cfg.Supervisor.ShutdownTimeout

	d.tree.AddStorageService(services.NewDbActorService(d.actor, shutdownTimeout))

	d.tree.AddPipelineService(services.NewWorkerService("event-indexer", ix))
	for i, fwd := range forwarders {
		d.tree.AddPipelineService(services.NewWorkerService(fmt.Sprintf("event-forwarder-%d", i), fwd, eventbus.ErrClosed))
	}
	if hub != nil {
		d.tree.AddPipelineService(services.NewWorkerService("event-stream", hub, api.ErrSubscriptionClosed))
	}
	d.tree.AddPipelineService(services.NewWorkerService("dedup-sweeper",
		source.NewSeenSweeper(seen, cfg.Ingest.DedupWindow/4)))

	if cfg.Sync.Interval > 0 {
		d.tree.AddSyncService(pkb.NewScheduler(app.svc, cfg.Sync.Interval))
	}
	if app.node.nats != nil {
		// The embedded server is shut down with the transport, after the tree.
		d.tree.AddSyncService(services.NewNATSNodeService(app.node.nats, app.svc, nil, shutdownTimeout))
	}

	if cfg.Server.Enabled {
		router := api.NewRouter(api.MiddlewareConfigFrom(cfg.Server), api.Deps{
			PKB:     app.svc,
			Sources: d.manager,
			Actor:   d.actor,
			Hooks:   d.manager.Webhook().Routes(),
			Events:  hub,
		})
		server := api.NewServer(cfg.Server.Addr(), router, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
		d.tree.AddAPIService(services.NewHTTPServerService(server, shutdownTimeout))
		logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")
	}

	c.watchConfig()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := d.tree.ServeBackground(ctx)

	// Sources record themselves in the projection, so they start once the
	// database accepts commands.
	if err := waitRunning(ctx, d.actor, actorBootTimeout); err != nil {
		logging.Warn().Err(err).Msg("Database not running, media sources will not be recorded")
	}
	if err := d.manager.Configure(ctx, cfg.Ingest.Sources); err != nil {
		logging.Error().Err(err).Msg("Failed to configure media sources")
	}
	if len(d.poller.Sources()) > 0 {
		d.tree.AddPipelineService(services.NewWorkerService("source-poller", d.poller))
	}

	// The tree returns once ctx is cancelled and every service stopped.
	if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree error")
		return err
	}
	return nil
}

// shutdown releases what the tree does not own. Services have stopped by
// the time it runs.
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), d.core.cfg.Supervisor.ShutdownTimeout)
	defer cancel()

	if d.tree != nil {
		if unstopped, _ := d.tree.UnstoppedServiceReport(); len(unstopped) > 0 {
			logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
			for _, svc := range unstopped {
				logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
			}
		}
	}
	if d.manager != nil {
		if err := d.manager.Close(ctx); err != nil {
			logging.Warn().Err(err).Msg("Failed to close media sources")
		}
	}
	if err := d.core.close(ctx); err != nil {
		logging.Warn().Err(err).Msg("Failed to close knowledge base")
	}
	if d.actor != nil {
		// No-op when the tree already stopped it.
		if err := d.actor.Stop(ctx); err != nil {
			logging.Warn().Err(err).Msg("Database actor did not stop cleanly")
		}
	}
	for _, pub := range d.pubs {
		if err := pub.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close event publisher")
		}
	}
	if d.cursors != nil {
		if err := d.cursors.Close(); err != nil {
			logging.Warn().Err(err).Msg("Failed to close cursor store")
		}
	}
	logging.Info().Msg("pkbd stopped gracefully")
}

// watchConfig applies logging level changes from the config file without a
// restart. Other settings need one.
func (c *cli) watchConfig() {
	path := c.configPath
	if path == "" {
		path = os.Getenv(config.ConfigPathEnvVar)
	}
	if path == "" {
		return
	}
	err := config.WatchConfigFile(path, func() {
		next, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config change")
			return
		}
		logging.SetLevelString(next.Logging.Level)
		logging.Info().Str("level", next.Logging.Level).Msg("Config reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch disabled")
	}
}

// waitRunning polls r until it reports running, ctx ends or timeout passes.
func waitRunning(ctx context.Context, r interface{ Running() bool }, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()

	for !r.Running() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("not running after %s", timeout)
		case <-tick.C:
		}
	}
	return nil
}
