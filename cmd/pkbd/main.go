// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package main is the entry point for pkbd, the personal knowledge base
// synchronization daemon.
//
// pkbd keeps named directories of content chunks (notes, media links and
// structured data) in per-directory repositories, synchronizes them with
// the same directories on other devices, and projects every change into a
// relational database through the event bus and the indexer.
//
// # Commands
//
//	pkbd serve                                  run the daemon
//	pkbd create <directory>...                  create directories, print their addresses
//	pkbd note <directory> <path> --body ...     add a note, print its PKB URL
//	pkbd remote add <dir> <alias> <address>     pair with another device
//	pkbd remote list|remove                     inspect or unpair remotes
//	pkbd sync [directory]                       one sync run
//	pkbd parse-url <url>                        split a PKB URL into its parts
//	pkbd rebuild-index                          rebuild the projection from the repositories
//	pkbd version
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (PKB_BASE_PATH, DB_DRIVER, HTTP_PORT, ...)
//   - Config file (--config, $CONFIG_PATH, ./config.yaml, /etc/pkbsync/config.yaml)
//   - Built-in defaults
//
// # Build Tags
//
// Without tags devices are reached over an in-process loopback network,
// which only serves tests and single-device use. The NATS transport,
// embedded server and event forwarding need:
//
//	go build -tags nats ./cmd/pkbd
//
// # Signal Handling
//
// serve handles SIGINT and SIGTERM by cancelling the supervisor tree:
//   - the HTTP server stops accepting requests and drains in-flight ones
//   - the scheduler and poller stop between runs
//   - the database actor finishes queued commands before closing
//   - repositories, the event bus and the NATS connection close last
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
