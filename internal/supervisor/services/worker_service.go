// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package services

import (
	"context"
	"errors"

	"github.com/thejerf/suture/v4"
)

// Worker is anything with a suture-style Serve method.
type Worker interface {
	Serve(ctx context.Context) error
}

// WorkerService supervises a worker that can finish on purpose. When Serve
// returns nil or one of the terminal errors, the service reports
// suture.ErrDoNotRestart so the supervisor lets it go. Any other error is
// returned unchanged and the worker is restarted.
//
//	ix := indexer.New(bus, actor.Handle(), 256)
//	tree.AddPipelineService(services.NewWorkerService("event-indexer", ix))
//	tree.AddPipelineService(services.NewWorkerService("event-forwarder", fwd, eventbus.ErrClosed))
type WorkerService struct {
	name     string
	worker   Worker
	terminal []error
}

func NewWorkerService(name string, worker Worker, terminal ...error) *WorkerService {
	return &WorkerService{name: name, worker: worker, terminal: terminal}
}

func (w *WorkerService) Serve(ctx context.Context) error {
	err := w.worker.Serve(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return suture.ErrDoNotRestart
	}
	for _, t := range w.terminal {
		if errors.Is(err, t) {
			return suture.ErrDoNotRestart
		}
	}
	return err
}

func (w *WorkerService) String() string { return w.name }
