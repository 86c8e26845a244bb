// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package dbactor

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Supported drivers.
const (
	DriverDuckDB = "duckdb"
	DriverSQLite = "sqlite3"
)

// Opener opens the connection the worker will own.
type Opener func(ctx context.Context, cfg Config) (*sql.DB, error)

// schema has no primary keys: an upsert deletes then inserts the same key
// in one transaction, which DuckDB's index rejects.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS entries (
		entry_id     VARCHAR NOT NULL,
		directory    VARCHAR NOT NULL,
		path         VARCHAR NOT NULL,
		chunk_id     VARCHAR NOT NULL,
		content_type VARCHAR NOT NULL,
		origin       VARCHAR NOT NULL,
		hlc          VARCHAR NOT NULL,
		created_at   TIMESTAMP NOT NULL,
		data         VARCHAR NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_dir_path ON entries(directory, path)`,
	`CREATE INDEX IF NOT EXISTS idx_entries_id ON entries(entry_id)`,
	`CREATE TABLE IF NOT EXISTS media_links (
		entry_id    VARCHAR NOT NULL,
		url         VARCHAR NOT NULL,
		mime_type   VARCHAR,
		title       VARCHAR,
		description VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_links_id ON media_links(entry_id)`,
	`CREATE TABLE IF NOT EXISTS structured_data (
		entry_id VARCHAR NOT NULL,
		db_type  VARCHAR NOT NULL,
		payload  VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_structured_data_id ON structured_data(entry_id)`,
	`CREATE TABLE IF NOT EXISTS notes (
		entry_id VARCHAR NOT NULL,
		title    VARCHAR,
		body     VARCHAR,
		tags     VARCHAR
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notes_id ON notes(entry_id)`,
	`CREATE TABLE IF NOT EXISTS thestream (
		entry_id     VARCHAR NOT NULL,
		directory    VARCHAR NOT NULL,
		path         VARCHAR NOT NULL,
		content_type VARCHAR NOT NULL,
		summary      VARCHAR,
		created_at   TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_thestream_created ON thestream(created_at)`,
	`CREATE TABLE IF NOT EXISTS sync_log (
		run_id      VARCHAR NOT NULL,
		directory   VARCHAR NOT NULL,
		event       VARCHAR NOT NULL,
		pulled      INTEGER,
		pushed      INTEGER,
		failed      INTEGER,
		reason      VARCHAR,
		recorded_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_log_dir ON sync_log(directory)`,
	`CREATE TABLE IF NOT EXISTS media_sources (
		name       VARCHAR NOT NULL,
		kind       VARCHAR NOT NULL,
		mode       VARCHAR NOT NULL,
		directory  VARCHAR NOT NULL,
		config     VARCHAR,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_media_sources_name ON media_sources(name)`,
}

// OpenDB is the default Opener: it opens cfg.Driver on one connection.
func OpenDB(ctx context.Context, cfg Config) (*sql.DB, error) {
	dsn, err := dataSourceName(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	// Every command runs on the worker goroutine; one connection keeps
	// in-memory databases coherent across statements.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		closeQuietly(db)
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

func dataSourceName(cfg Config) (string, error) {
	inMemory := cfg.Path == "" || cfg.Path == ":memory:"
	if !inMemory {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return "", fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
	}

	switch cfg.Driver {
	case DriverDuckDB:
		threads := cfg.Threads
		if threads <= 0 {
			threads = runtime.NumCPU()
		}
		path := cfg.Path
		if inMemory {
			path = ""
		}
		dsn := fmt.Sprintf("%s?threads=%d&autoinstall_known_extensions=false&autoload_known_extensions=false", path, threads)
		if cfg.MaxMemory != "" {
			dsn += "&max_memory=" + cfg.MaxMemory
		}
		return dsn, nil
	case DriverSQLite:
		if inMemory {
			return ":memory:", nil
		}
		return "file:" + cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func applySchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func closeQuietly(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}
