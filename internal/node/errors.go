// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package node

import (
	"errors"
	"time"
)

var (
	// ErrUnreachable is returned when the remote device is not attached or offline.
	ErrUnreachable = errors.New("node unreachable")

	// ErrUnknownRemote is returned for a remote name that was never added.
	ErrUnknownRemote = errors.New("unknown remote")

	// ErrNATSUnavailable is returned by binaries built without -tags nats.
	ErrNATSUnavailable = errors.New("NATS transport not available: build with -tags=nats")
)

// NATS defaults.
const (
	DefaultSubjectPrefix  = "pkb.node"
	DefaultRequestTimeout = 10 * time.Second
)
