// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tomtom215/pkbsync/internal/validation"
)

// DirectoryID names a category of entries and its backing repository.
type DirectoryID string

// Validate checks the directory naming rules.
func (d DirectoryID) Validate() error {
	if !validation.IsDirectoryName(string(d)) {
		return fmt.Errorf("%w: %q", ErrInvalidDirectory, string(d))
	}
	return nil
}

// EntryID identifies one commit of a chunk. Two devices committing the same
// chunk at the same path get different entry ids.
type EntryID string

// NewEntryID derives the entry id from the commit identity.
func NewEntryID(dir DirectoryID, p string, chunk ChunkID, ts Timestamp) EntryID {
	h := sha256.New()
	for _, part := range []string{string(dir), p, string(chunk), ts.String()} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return EntryID(hex.EncodeToString(h.Sum(nil))[:32])
}

// Record is the per-path state of a repository. It is what repositories
// store, what merge strategies compare and what travels between devices.
type Record struct {
	Path        string      `json:"path"`
	EntryID     EntryID     `json:"entry_id"`
	ChunkID     ChunkID     `json:"chunk_id,omitempty"`
	ContentType ContentType `json:"content_type,omitempty"`
	// Data is the EncodeChunk form; empty for tombstones.
	Data      []byte    `json:"data,omitempty"`
	Timestamp Timestamp `json:"ts"`
	CreatedAt time.Time `json:"created_at"`
	Deleted   bool      `json:"deleted,omitempty"`
}

// Origin is the node id of the device that made this commit.
func (r *Record) Origin() string { return r.Timestamp.Device }

// SameContent reports whether two records hold the same chunk (or are both tombstones).
func (r *Record) SameContent(o *Record) bool {
	if r.Deleted || o.Deleted {
		return r.Deleted == o.Deleted
	}
	return r.ChunkID == o.ChunkID
}

// Verify checks that Data hashes to ChunkID. Records from remotes are
// verified before they are applied.
func (r *Record) Verify() error {
	if r.Deleted {
		return nil
	}
	if got := HashChunk(r.Data); got != r.ChunkID {
		return &EncodingError{ContentType: r.ContentType, Err: fmt.Errorf("chunk id mismatch for %s: have %s, computed %s", r.Path, r.ChunkID, got)}
	}
	return nil
}

// Entry is a committed chunk as seen by callers.
type Entry struct {
	ID          EntryID     `json:"id"`
	Directory   DirectoryID `json:"directory"`
	Path        string      `json:"path"`
	ChunkID     ChunkID     `json:"chunk_id"`
	ContentType ContentType `json:"content_type"`
	Chunk       Chunk       `json:"chunk"`
	Meta        EntryMeta   `json:"meta"`
}

// EntryMeta carries commit metadata.
type EntryMeta struct {
	CreatedAt time.Time `json:"created_at"`
	Origin    string    `json:"origin"`
	Timestamp Timestamp `json:"timestamp"`
}

// EntryFromRecord decodes a live record.
func EntryFromRecord(dir DirectoryID, r *Record) (*Entry, error) {
	if r.Deleted {
		return nil, fmt.Errorf("%s/%s: %w", dir, r.Path, ErrNotFound)
	}
	c, err := DecodeChunk(r.Data)
	if err != nil {
		return nil, err
	}
	return &Entry{
		ID:          r.EntryID,
		Directory:   dir,
		Path:        r.Path,
		ChunkID:     r.ChunkID,
		ContentType: c.ContentType(),
		Chunk:       c,
		Meta: EntryMeta{
			CreatedAt: r.CreatedAt,
			Origin:    r.Origin(),
			Timestamp: r.Timestamp,
		},
	}, nil
}

// DefaultPath is where AddChunk stores a chunk when the caller gives no path.
func DefaultPath(c Chunk, id ChunkID) string {
	return string(c.ContentType()) + "/" + id.Short() + ".json"
}

// CleanPath normalizes an entry path and rejects escapes from the directory.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	cleaned := path.Clean("/" + strings.ReplaceAll(p, "\\", "/"))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid entry path %q", p)
	}
	return cleaned, nil
}
