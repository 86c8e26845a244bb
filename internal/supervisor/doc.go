// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

/*
Package supervisor runs the long-lived workers of pkbd under suture v4.

# Overview

	RootSupervisor ("pkbd")
	├── StorageSupervisor ("storage-layer")
	│   └── DbActorService
	├── PipelineSupervisor ("pipeline-layer")
	│   ├── event-indexer
	│   ├── event-forwarder (if events.forward_enabled)
	│   └── source-poller (if pull sources are configured)
	├── SyncSupervisor ("sync-layer")
	│   ├── sync-scheduler
	│   └── nats-server (if nats.embedded_server, build tag: nats)
	└── APISupervisor ("api-layer")
	    ├── event-stream hub
	    └── HTTPServerService

A worker that returns an error is restarted with suture's backoff. The
database actor coming back after a lost connection is exactly such a
restart: callers see ErrConnectionLost until Serve reopens the connection.

Workers that finish on purpose are wrapped so they are not restarted; see
services.NewWorkerService.

# Logging

Supervisor events (restarts, backoff, timeouts) are logged through
sutureslog into the same zerolog output as the rest of the process:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.FromConfig(cfg.Supervisor))
*/
package supervisor
