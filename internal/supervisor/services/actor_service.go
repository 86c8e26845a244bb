// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package services

import (
	"context"
	"errors"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/logging"
)

// DbActor is the lifecycle subset of *dbactor.Actor.
type DbActor interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DbActorService runs the database actor. A lost connection is returned as
// an error, so the supervisor restarts the worker and reconnects. A
// Shutdown command ends supervision for good.
//
// On cancellation the actor is stopped with a Shutdown command so that
// queued commands finish before the connection closes.
type DbActorService struct {
	actor           DbActor
	shutdownTimeout time.Duration
}

func NewDbActorService(actor DbActor, shutdownTimeout time.Duration) *DbActorService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &DbActorService{actor: actor, shutdownTimeout: shutdownTimeout}
}

func (s *DbActorService) Serve(ctx context.Context) error {
	// The worker outlives ctx until Stop has drained the queue.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.actor.Serve(runCtx) }()

	select {
	case err := <-errCh:
		if errors.Is(err, dbactor.ErrActorStopped) {
			return suture.ErrDoNotRestart
		}
		if errors.Is(err, dbactor.ErrConnectionLost) {
			logging.Warn().Err(err).Msg("Database connection lost, restarting actor")
		}
		return err

	case <-ctx.Done():
		stopCtx, stopCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer stopCancel()
		if err := s.actor.Stop(stopCtx); err != nil {
			logging.Warn().Err(err).Msg("Database actor did not stop cleanly")
		}
		// Stop is a no-op when the worker had not booted yet.
		cancel()
		<-errCh
		return ctx.Err()
	}
}

func (s *DbActorService) String() string { return "dbactor" }
