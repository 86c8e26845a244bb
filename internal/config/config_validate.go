// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package config

import (
	"fmt"

	"github.com/tomtom215/pkbsync/internal/validation"
)

// Validate runs the struct tag rules and then the cross-field checks tags
// cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	validators := []func() error{
		c.validateSources,
		c.validateNATS,
		c.validateServer,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateSources() error {
	seen := make(map[string]struct{}, len(c.Ingest.Sources))
	for _, src := range c.Ingest.Sources {
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("ingest.sources: duplicate source name %q", src.Name)
		}
		seen[src.Name] = struct{}{}

		if src.Kind == "webhook" && src.Mode != "push" {
			return fmt.Errorf("ingest.sources[%s]: webhook sources only support push mode", src.Name)
		}
		if src.Kind == "localdir" && src.Params["root"] == "" {
			return fmt.Errorf("ingest.sources[%s]: localdir requires params.root", src.Name)
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url is required when NATS is enabled without an embedded server")
	}
	if c.NATS.SubjectPrefix == "" {
		return fmt.Errorf("nats.subject_prefix is required when NATS is enabled")
	}
	if c.NATS.RequestTimeout <= 0 {
		return fmt.Errorf("nats.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateServer() error {
	if !c.Server.Enabled {
		return nil
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}
