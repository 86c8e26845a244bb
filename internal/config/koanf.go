// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/pkbsync/config.yaml",
	"/etc/pkbsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		PKB: PKBConfig{
			BasePath:           "/data/pkb",
			DeviceAlias:        "device",
			URLScheme:          "pkb",
			DefaultDirectories: []string{"notes", "bookmarks", "media"},
		},
		Database: DatabaseConfig{
			Driver:       "duckdb",
			Path:         "/data/pkb/.pkb/index.duckdb",
			QueueSize:    256,
			Backpressure: "block",
			MaxMemory:    "512MB",
			Threads:      0,
		},
		Sync: SyncConfig{
			Interval:           5 * time.Minute,
			Timeout:            2 * time.Minute,
			MaxParallelRemotes: 4,
			PreserveLosers:     false,
			BreakerFailures:    5,
			BreakerTimeout:     time.Minute,
		},
		Ingest: IngestConfig{
			DedupWindow:    3600 * time.Second,
			DedupCapacity:  10000,
			BatchGroupSize: 32,
			PollInterval:   time.Minute,
			PollRate:       2,
		},
		Events: EventsConfig{
			SubscriberBuffer: 256,
			ForwardEnabled:   false,
			ForwardTopic:     "pkb.events",
		},
		Server: ServerConfig{
			Enabled:           true,
			Host:              "127.0.0.1",
			Port:              7420,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		NATS: NATSConfig{
			Enabled:        false,
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/pkb/.pkb/nats",
			SubjectPrefix:  "pkb.node",
			RequestTimeout: 10 * time.Second,
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// Load reads configuration from defaults, an optional YAML file and the environment,
// then validates it. Precedence: env > file > defaults.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Env vars arrive as strings; these paths are split on commas.
var sliceConfigPaths = []string{
	"pkb.default_directories",
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"pkb_base_path":           "pkb.base_path",
	"pkb_device_alias":        "pkb.device_alias",
	"pkb_node_id":             "pkb.node_id",
	"pkb_url_scheme":          "pkb.url_scheme",
	"pkb_default_directories": "pkb.default_directories",

	"db_driver":       "database.driver",
	"db_path":         "database.path",
	"db_queue_size":   "database.queue_size",
	"db_backpressure": "database.backpressure",
	"duckdb_memory":   "database.max_memory",
	"duckdb_threads":  "database.threads",

	"sync_interval":             "sync.interval",
	"sync_timeout":              "sync.timeout",
	"sync_max_parallel_remotes": "sync.max_parallel_remotes",
	"sync_preserve_losers":      "sync.preserve_losers",
	"sync_breaker_failures":     "sync.breaker_failures",
	"sync_breaker_timeout":      "sync.breaker_timeout",

	"ingest_dedup_window":     "ingest.dedup_window",
	"ingest_dedup_capacity":   "ingest.dedup_capacity",
	"ingest_batch_group_size": "ingest.batch_group_size",
	"ingest_poll_interval":    "ingest.poll_interval",
	"ingest_poll_rate":        "ingest.poll_rate",
	"ingest_cursor_path":      "ingest.cursor_path",

	"events_subscriber_buffer": "events.subscriber_buffer",
	"events_forward_enabled":   "events.forward_enabled",
	"events_forward_topic":     "events.forward_topic",

	"http_enabled":        "server.enabled",
	"http_host":           "server.host",
	"http_port":           "server.port",
	"http_read_timeout":   "server.read_timeout",
	"http_write_timeout":  "server.write_timeout",
	"rate_limit_requests": "server.rate_limit_requests",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"nats_enabled":         "nats.enabled",
	"nats_url":             "nats.url",
	"nats_embedded":        "nats.embedded_server",
	"nats_store_dir":       "nats.store_dir",
	"nats_subject_prefix":  "nats.subject_prefix",
	"nats_request_timeout": "nats.request_timeout",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable to its koanf path.
// Unmapped variables return "" and are ignored so unrelated environment
// does not leak into the configuration.
//
//	PKB_BASE_PATH -> pkb.base_path
//	DB_BACKPRESSURE -> database.backpressure
//	HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// WatchConfigFile calls callback whenever the file at path changes.
// The caller reloads and swaps configuration under its own lock.
func WatchConfigFile(path string, callback func()) error {
	return file.Provider(path).Watch(func(_ interface{}, err error) {
		if err != nil {
			return
		}
		callback()
	})
}
