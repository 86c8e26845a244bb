// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

//go:build !nats

package eventbus

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// NewNATSPublisher returns an error when NATS dependencies are not available.
// Build with -tags=nats to forward events over NATS.
func NewNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nil, errors.New("NATS publisher not available: build with -tags=nats")
}
