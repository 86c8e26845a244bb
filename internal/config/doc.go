// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

// Package config loads PKBSync configuration with koanf v2.
//
// Values are layered: built-in defaults, then an optional YAML file, then a
// fixed set of environment variables. The result is validated with struct
// tags (see internal/validation) followed by cross-field checks.
//
// Example config.yaml:
//
//	pkb:
//	  base_path: /home/me/pkb
//	  device_alias: laptop
//	database:
//	  driver: sqlite3
//	  path: /home/me/pkb/.pkb/index.db
//	  backpressure: fail_fast
//	ingest:
//	  sources:
//	    - name: camera
//	      kind: localdir
//	      mode: pull
//	      directory: media
//	      params:
//	        root: /home/me/Pictures
//
// Environment variables (subset):
//
//	PKB_BASE_PATH, PKB_DEVICE_ALIAS, DB_DRIVER, DB_PATH, DB_QUEUE_SIZE,
//	DB_BACKPRESSURE, SYNC_INTERVAL, INGEST_DEDUP_WINDOW, HTTP_PORT,
//	LOG_LEVEL, LOG_FORMAT, NATS_ENABLED, NATS_URL
package config
