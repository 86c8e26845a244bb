// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned (usually wrapped) when a directory, path or entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrSyncInProgress is returned when a directory is already being synchronized.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidDirectory is returned for directory names that fail validation.
	ErrInvalidDirectory = errors.New("invalid directory name")

	// ErrClosed is returned by a closed Service or Repository.
	ErrClosed = errors.New("pkb: closed")
)

// StorageError reports a failure reading or writing a directory repository
// or the directory registry.
type StorageError struct {
	Op        string
	Directory DirectoryID
	Err       error
}

func (e *StorageError) Error() string {
	if e.Directory == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Directory, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EncodingError reports a chunk that could not be serialized or decoded.
type EncodingError struct {
	ContentType ContentType
	Err         error
}

func (e *EncodingError) Error() string {
	if e.ContentType == "" {
		return fmt.Sprintf("chunk encoding: %v", e.Err)
	}
	return fmt.Sprintf("chunk encoding %s: %v", e.ContentType, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// MergeConflictError is returned by a merge strategy that cannot order two
// different versions of one path. LatestWins only produces it for records
// carrying identical timestamps, which a correct clock never issues.
type MergeConflictError struct {
	Path   string
	Local  ChunkID
	Remote ChunkID
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("unresolved merge conflict at %s: local %s, remote %s", e.Path, e.Local, e.Remote)
}

// SyncError reports a failure exchanging data with one remote.
type SyncError struct {
	Remote string
	Stage  string // fetch, merge, apply, push
	Err    error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync with %s failed during %s: %v", e.Remote, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func storageErr(op string, dir DirectoryID, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Directory: dir, Err: err}
}
