// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

//go:build nats

package eventbus

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
)

// NewNATSPublisher returns a core NATS publisher for Forwarder, so events
// reach observers on other hosts. JetStream is not used: forwarded events
// are notifications, not a durable log.
func NewNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	cfg := wmNats.PublisherConfig{
		URL: url,
		NatsOptions: []natsgo.Option{
			natsgo.RetryOnFailedConnect(true),
			natsgo.MaxReconnects(-1),
			natsgo.ReconnectWait(2 * time.Second),
			natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
				if err != nil {
					logger.Error("NATS disconnected", err, nil)
				}
			}),
		},
		Marshaler: &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{Disabled: true},
	}
	pub, err := wmNats.NewPublisher(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill NATS publisher: %w", err)
	}
	return pub, nil
}
