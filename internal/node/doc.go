// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

/*
Package node implements pkb.NodeHandle, the transport a Service uses to reach
other devices.

Two transports are provided:

  - Loopback connects devices inside one process through a Network. Tests and
    single-host multi-profile setups use it.
  - NATS (build tag nats) exchanges records by request/reply on
    <prefix>.<node id>.{snapshot,push,entry}. Each node answers on its own
    subjects by serving a pkb.Peer, usually the local *pkb.Service.

Both keep the same bookkeeping: repository ids derived from node id and
directory, and named remote bindings per directory. Remote addresses have the
form pkbnode://<repository id>?<node id>.

An embedded NATS server is available for single-device deployments:

	srv, err := node.NewEmbeddedServer("127.0.0.1", 4222, storeDir)
	nc, err := node.Connect(srv.ClientURL(), logger)
	n := node.NewNATS(nc, nodeID, node.NATSOptions{Prefix: "pkb.node"})
	err = n.Serve(svc)

Binaries built without the nats tag get stubs that return ErrNATSUnavailable.
*/
package node
