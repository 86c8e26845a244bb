// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

/*
Package api serves the pkbd admin HTTP API.

The API is small and JSON-only. Every response uses the same envelope:

	{"status": "success", "data": ..., "timestamp": "..."}
	{"status": "error", "error": {"code": "NOT_FOUND", "message": "..."}, "timestamp": "..."}

Routes:

	GET  /health                              liveness, 503 while the projection database is down
	GET  /metrics                             Prometheus exposition
	GET  /api/v1/directories                  directories with sync state and remotes
	GET  /api/v1/directories/{dir}/entries    live entries of a directory
	POST /api/v1/directories/{dir}/sync       run one sync, returns the merge result
	GET  /api/v1/resolve?url=pkb://...        resolve a PKB URL to an entry
	GET  /api/v1/sources                      live push endpoints
	GET  /api/v1/events?kinds=a,b             websocket stream of forwarded events
	POST /hooks/{endpoint}                    webhook media source deliveries

# Event Stream

Hub subscribes to the event forwarder's watermill topic and relays each
message payload (an eventbus.Envelope) to connected websocket clients as a
text frame. Clients may filter by event kind. A client that cannot keep up
is disconnected instead of slowing the others down. Run Hub.Serve under the
supervisor; /api/v1/events answers 503 while it is not running.

# Middleware

Global: request id with logging correlation, real IP, panic recovery,
request metrics, CORS (go-chi/cors). The /api/v1 and /hooks routes are
rate limited per client IP with go-chi/httprate.
*/
package api
