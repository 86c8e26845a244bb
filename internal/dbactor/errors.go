// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package dbactor

import (
	"errors"
	"fmt"
)

var (
	// ErrConnectionLost means the worker died; the actor is unavailable until restarted.
	ErrConnectionLost = errors.New("dbactor: connection lost")

	// ErrActorStopped means the actor was shut down or never started.
	ErrActorStopped = errors.New("dbactor: stopped")

	// ErrQueueFull is returned under the fail_fast policy when the queue is full.
	ErrQueueFull = errors.New("dbactor: command queue full")
)

// DatabaseError is a failed command. The actor itself is still available.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err means the actor could not run the
// command at all, as opposed to the command failing.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrConnectionLost) || errors.Is(err, ErrActorStopped) || errors.Is(err, ErrQueueFull)
}
