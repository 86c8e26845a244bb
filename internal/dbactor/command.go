// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package dbactor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Command is one request to the actor. The set is closed: UpsertEntry,
// DeleteEntry, InsertMediaSource, RecordSync, Query, Exec and Shutdown.
type Command interface {
	commandName() string
}

// EntryRow is the projection of one live entry. Exactly one of Media,
// Structured and Note is set, matching ContentType.
type EntryRow struct {
	EntryID     string
	Directory   string
	Path        string
	ChunkID     string
	ContentType string
	Origin      string
	HLC         string
	CreatedAt   time.Time
	Summary     string
	// Data is the serialized chunk envelope.
	Data []byte

	Media      *MediaRow
	Structured *StructuredRow
	Note       *NoteRow
}

// MediaRow is the media_links part of an entry.
type MediaRow struct {
	URL         string
	MimeType    string
	Title       string
	Description string
}

// StructuredRow is the structured_data part of an entry.
type StructuredRow struct {
	DbType  string
	Payload []byte
}

// NoteRow is the notes part of an entry.
type NoteRow struct {
	Title string
	Body  string
	Tags  []string
}

// MediaSourceRow describes a configured media source.
type MediaSourceRow struct {
	Name      string
	Kind      string
	Mode      string
	Directory string
	// Config is the serialized adapter config envelope.
	Config    []byte
	CreatedAt time.Time
}

// SyncLogRow is one sync notification.
type SyncLogRow struct {
	RunID      string
	Directory  string
	Event      string // started, completed, failed
	Pulled     int
	Pushed     int
	Failed     int
	Reason     string
	RecordedAt time.Time
}

// UpsertEntry replaces whatever the projection holds at (Directory, Path).
type UpsertEntry struct{ Row EntryRow }

// DeleteEntry removes the entry at (Directory, Path).
type DeleteEntry struct{ Directory, Path string }

// InsertMediaSource records or replaces a media source by name.
type InsertMediaSource struct{ Source MediaSourceRow }

// RecordSync appends to sync_log.
type RecordSync struct{ Entry SyncLogRow }

// Query runs a read statement.
type Query struct {
	SQL  string
	Args []any
}

// Exec runs a write statement.
type Exec struct {
	SQL  string
	Args []any
}

// Shutdown finishes queued commands, closes the connection and stops the worker.
type Shutdown struct{}

func (UpsertEntry) commandName() string       { return "upsert_entry" }
func (DeleteEntry) commandName() string       { return "delete_entry" }
func (InsertMediaSource) commandName() string { return "insert_media_source" }
func (RecordSync) commandName() string        { return "record_sync" }
func (Query) commandName() string             { return "query" }
func (Exec) commandName() string              { return "exec" }
func (Shutdown) commandName() string          { return "shutdown" }

// Rows is a fully materialized query result.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Len returns the number of rows.
func (r *Rows) Len() int { return len(r.Values) }

// Result is what the worker sends back for one command.
type Result struct {
	Rows         *Rows
	RowsAffected int64
	Err          error
}

// projectionTables lists every table holding per-entry rows.
var projectionTables = []string{"entries", "media_links", "structured_data", "notes", "thestream"}

func dispatch(ctx context.Context, db *sql.DB, cmd Command) Result {
	switch c := cmd.(type) {
	case UpsertEntry:
		return inTx(ctx, db, "upsert entry", func(tx *sql.Tx) (int64, error) {
			return upsertEntry(ctx, tx, c.Row)
		})
	case DeleteEntry:
		return inTx(ctx, db, "delete entry", func(tx *sql.Tx) (int64, error) {
			return deleteEntry(ctx, tx, c.Directory, c.Path)
		})
	case InsertMediaSource:
		return inTx(ctx, db, "insert media source", func(tx *sql.Tx) (int64, error) {
			s := c.Source
			if _, err := tx.ExecContext(ctx, `DELETE FROM media_sources WHERE name = ?`, s.Name); err != nil {
				return 0, err
			}
			res, err := tx.ExecContext(ctx,
				`INSERT INTO media_sources (name, kind, mode, directory, config, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				s.Name, s.Kind, s.Mode, s.Directory, string(s.Config), s.CreatedAt.UTC())
			if err != nil {
				return 0, err
			}
			return res.RowsAffected()
		})
	case RecordSync:
		e := c.Entry
		res, err := db.ExecContext(ctx,
			`INSERT INTO sync_log (run_id, directory, event, pulled, pushed, failed, reason, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RunID, e.Directory, e.Event, e.Pulled, e.Pushed, e.Failed, e.Reason, e.RecordedAt.UTC())
		return execResult("record sync", res, err)
	case Query:
		rows, err := query(ctx, db, c.SQL, c.Args...)
		if err != nil {
			return Result{Err: &DatabaseError{Op: "query", Err: err}}
		}
		return Result{Rows: rows}
	case Exec:
		res, err := db.ExecContext(ctx, c.SQL, c.Args...)
		return execResult("exec", res, err)
	default:
		return Result{Err: &DatabaseError{Op: "dispatch", Err: fmt.Errorf("unsupported command %T", cmd)}}
	}
}

func inTx(ctx context.Context, db *sql.DB, op string, fn func(*sql.Tx) (int64, error)) Result {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Result{Err: &DatabaseError{Op: op, Err: err}}
	}
	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return Result{Err: &DatabaseError{Op: op, Err: err}}
	}
	if err := tx.Commit(); err != nil {
		return Result{Err: &DatabaseError{Op: op, Err: err}}
	}
	return Result{RowsAffected: n}
}

func execResult(op string, res sql.Result, err error) Result {
	if err != nil {
		return Result{Err: &DatabaseError{Op: op, Err: err}}
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Some drivers cannot report it; the statement still ran.
		return Result{}
	}
	return Result{RowsAffected: n}
}

func deleteEntry(ctx context.Context, tx *sql.Tx, directory, path string) (int64, error) {
	var removed int64
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE directory = ? AND path = ?`, directory, path).Scan(&removed)
	if err != nil {
		return 0, err
	}
	for _, table := range projectionTables[1:] {
		stmt := `DELETE FROM ` + table + ` WHERE entry_id IN (SELECT entry_id FROM entries WHERE directory = ? AND path = ?)`
		if table == "thestream" {
			stmt = `DELETE FROM thestream WHERE directory = ? AND path = ?`
		}
		if _, err := tx.ExecContext(ctx, stmt, directory, path); err != nil {
			return 0, fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE directory = ? AND path = ?`, directory, path); err != nil {
		return 0, fmt.Errorf("delete from entries: %w", err)
	}
	return removed, nil
}

func upsertEntry(ctx context.Context, tx *sql.Tx, r EntryRow) (int64, error) {
	if _, err := deleteEntry(ctx, tx, r.Directory, r.Path); err != nil {
		return 0, err
	}
	// A replayed entry may still be present under its id at another path.
	for _, table := range projectionTables {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE entry_id = ?`, r.EntryID); err != nil {
			return 0, fmt.Errorf("delete %s from %s: %w", r.EntryID, table, err)
		}
	}

	created := r.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO entries (entry_id, directory, path, chunk_id, content_type, origin, hlc, created_at, data) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.EntryID, r.Directory, r.Path, r.ChunkID, r.ContentType, r.Origin, r.HLC, created, string(r.Data)); err != nil {
		return 0, fmt.Errorf("insert entries: %w", err)
	}

	var err error
	switch {
	case r.Media != nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO media_links (entry_id, url, mime_type, title, description) VALUES (?, ?, ?, ?, ?)`,
			r.EntryID, r.Media.URL, r.Media.MimeType, r.Media.Title, r.Media.Description)
	case r.Structured != nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO structured_data (entry_id, db_type, payload) VALUES (?, ?, ?)`,
			r.EntryID, r.Structured.DbType, string(r.Structured.Payload))
	case r.Note != nil:
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notes (entry_id, title, body, tags) VALUES (?, ?, ?, ?)`,
			r.EntryID, r.Note.Title, r.Note.Body, strings.Join(r.Note.Tags, ","))
	}
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", r.ContentType, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO thestream (entry_id, directory, path, content_type, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.EntryID, r.Directory, r.Path, r.ContentType, r.Summary, created); err != nil {
		return 0, fmt.Errorf("insert thestream: %w", err)
	}
	return 1, nil
}

func query(ctx context.Context, db *sql.DB, stmt string, args ...any) (*Rows, error) {
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		out.Values = append(out.Values, vals)
	}
	return out, rows.Err()
}
