// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config holds all daemon configuration.
//
// Loading order (koanf v2):
//  1. Defaults from defaultConfig()
//  2. Optional YAML file (CONFIG_PATH, ./config.yaml, /etc/pkbsync/config.yaml)
//  3. Mapped environment variables
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("Invalid configuration")
//	}
//	actor := dbactor.New(dbactor.FromConfig(cfg.Database))
type Config struct {
	PKB        PKBConfig        `koanf:"pkb"`
	Database   DatabaseConfig   `koanf:"database"`
	Sync       SyncConfig       `koanf:"sync"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Events     EventsConfig     `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	NATS       NATSConfig       `koanf:"nats"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// PKBConfig locates the knowledge base on disk and names this device.
type PKBConfig struct {
	// BasePath holds one repository per directory plus .pkb/directories.json.
	BasePath string `koanf:"base_path" validate:"required"`

	// DeviceAlias is the human name other devices see in remote names (alias-shortnodeid).
	DeviceAlias string `koanf:"device_alias" validate:"required,pkb_alias"`

	// NodeID identifies this device on the node transport. Generated and
	// persisted under BasePath when empty.
	NodeID string `koanf:"node_id"`

	// URLScheme is the scheme used when formatting PKB URLs.
	URLScheme string `koanf:"url_scheme" validate:"required,alpha,lowercase"`

	// DefaultDirectories are created at startup if missing.
	DefaultDirectories []string `koanf:"default_directories" validate:"dive,pkb_dir"`
}

// DatabaseConfig configures the relational projection and its actor.
type DatabaseConfig struct {
	// Driver is duckdb or sqlite3.
	Driver string `koanf:"driver" validate:"oneof=duckdb sqlite3"`
	Path   string `koanf:"path" validate:"required"`

	// QueueSize bounds the actor's command queue.
	QueueSize int `koanf:"queue_size" validate:"min=1,max=65536"`

	// Backpressure is block or fail_fast.
	Backpressure string `koanf:"backpressure" validate:"oneof=block fail_fast"`

	// DuckDB tuning, ignored by sqlite3.
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads" validate:"min=0"`
}

// SyncConfig configures device synchronization.
type SyncConfig struct {
	// Interval between scheduled SyncAll runs. Zero disables the scheduler.
	Interval time.Duration `koanf:"interval" validate:"min=0"`

	// Timeout bounds one directory sync.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	MaxParallelRemotes int `koanf:"max_parallel_remotes" validate:"min=1,max=64"`

	// PreserveLosers keeps the losing side of a latest-wins decision in the merge outcome.
	PreserveLosers bool `koanf:"preserve_losers"`

	// Circuit breaker per remote.
	BreakerFailures uint32        `koanf:"breaker_failures" validate:"min=1"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout" validate:"gt=0"`
}

// IngestConfig configures the media ingestion pipeline.
type IngestConfig struct {
	// DedupWindow is how long a source id is remembered.
	DedupWindow   time.Duration `koanf:"dedup_window" validate:"gt=0"`
	DedupCapacity int           `koanf:"dedup_capacity" validate:"min=1"`

	// BatchGroupSize is how many items IngestBatch processes per group.
	BatchGroupSize int `koanf:"batch_group_size" validate:"min=1,max=1024"`

	PollInterval time.Duration `koanf:"poll_interval" validate:"gt=0"`

	// PollRate caps polls per second across all pull sources.
	PollRate float64 `koanf:"poll_rate" validate:"gt=0"`

	// CursorPath is the badger directory for poll cursors. Defaults to <base_path>/.pkb/cursors.
	CursorPath string `koanf:"cursor_path"`

	Sources []SourceConfig `koanf:"sources" validate:"dive"`
}

// SourceConfig declares one media source.
type SourceConfig struct {
	Name      string            `koanf:"name" validate:"required,pkb_dir"`
	Kind      string            `koanf:"kind" validate:"oneof=localdir webhook"`
	Mode      string            `koanf:"mode" validate:"oneof=pull push"`
	Directory string            `koanf:"directory" validate:"pkb_dir"`
	Params    map[string]string `koanf:"params"`
}

// EventsConfig configures the in-process event bus and its external forwarder.
type EventsConfig struct {
	SubscriberBuffer int `koanf:"subscriber_buffer" validate:"min=1"`

	// ForwardEnabled publishes every PKB event to watermill for external observers.
	ForwardEnabled bool   `koanf:"forward_enabled"`
	ForwardTopic   string `koanf:"forward_topic"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Enabled           bool          `koanf:"enabled"`
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout       time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout      time.Duration `koanf:"write_timeout" validate:"gt=0"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// NATSConfig configures the NATS node transport and event forwarding.
// Only used by binaries built with -tags nats.
type NATSConfig struct {
	Enabled        bool          `koanf:"enabled"`
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	SubjectPrefix  string        `koanf:"subject_prefix"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// SupervisorConfig mirrors supervisor.TreeConfig.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff" validate:"gt=0"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// RegistryPath returns the location of the directory registry file.
func (c *PKBConfig) RegistryPath() string {
	return filepath.Join(c.BasePath, ".pkb", "directories.json")
}

// ResolvedCursorPath returns CursorPath or its default under the base path.
func (c *Config) ResolvedCursorPath() string {
	if c.Ingest.CursorPath != "" {
		return c.Ingest.CursorPath
	}
	return filepath.Join(c.PKB.BasePath, ".pkb", "cursors")
}

// Addr returns host:port for the HTTP listener.
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
