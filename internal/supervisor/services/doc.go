// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

/*
Package services adapts pkbd components to suture.Service.

# Available Services

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown
  - Listener failures are returned so the supervisor retries

Database Actor (DbActorService):
  - Runs dbactor.Actor; a lost connection restarts it
  - Cancellation sends Shutdown so queued commands finish first
  - A Shutdown command from elsewhere ends supervision

Workers (WorkerService):
  - Event indexer, event forwarder, source poller, sync scheduler,
    event stream hub
  - A nil return or a listed terminal error ends supervision

NATS Node (NATSNodeService):
  - Serves peer requests over NATS and stops the embedded server, if any
  - Only wired by binaries built with -tags nats

# Restart Semantics

Returning suture.ErrDoNotRestart removes a service from its supervisor
without counting a failure. Workers that finish because the event bus was
closed use it, since restarting them would only fail again.
*/
package services
