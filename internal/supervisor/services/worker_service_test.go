// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/pkbsync/internal/dbactor"
	"github.com/tomtom215/pkbsync/internal/pkb"
)

type funcWorker func(ctx context.Context) error

func (f funcWorker) Serve(ctx context.Context) error { return f(ctx) }

var errBusClosed = errors.New("bus closed")

func TestWorkerService(t *testing.T) {
	tests := []struct {
		name string
		ret  error
		want error
	}{
		{"nil ends supervision", nil, suture.ErrDoNotRestart},
		{"terminal error ends supervision", errBusClosed, suture.ErrDoNotRestart},
		{"wrapped terminal error", errors.Join(errors.New("forwarder"), errBusClosed), suture.ErrDoNotRestart},
		{"other error restarts", errors.New("boom"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewWorkerService("w", funcWorker(func(context.Context) error { return tt.ret }), errBusClosed)
			err := svc.Serve(context.Background())
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("Serve() = %v, want %v", err, tt.want)
				}
				return
			}
			if err != tt.ret {
				t.Errorf("Serve() = %v, want original %v", err, tt.ret)
			}
		})
	}
}

func TestWorkerService_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc := NewWorkerService("w", funcWorker(func(context.Context) error { return nil }))
	if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v, want context.Canceled", err)
	}
	if svc.String() != "w" {
		t.Errorf("String() = %q", svc.String())
	}
}

func TestWorkerService_NotRestartedUnderSupervisor(t *testing.T) {
	var runs atomic.Int32
	svc := NewWorkerService("once", funcWorker(func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	sup := suture.New("test", suture.Spec{FailureBackoff: time.Millisecond, Timeout: time.Second})
	sup.Add(svc)
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	<-sup.ServeBackground(ctx)

	if runs.Load() != 1 {
		t.Errorf("worker ran %d times, want 1", runs.Load())
	}
}

// fakeActor mimics dbactor.Actor: Serve blocks until Stop or ctx.
type fakeActor struct {
	serveErr error
	stopped  chan struct{}
	stops    atomic.Int32
}

func newFakeActor() *fakeActor { return &fakeActor{stopped: make(chan struct{})} }

func (f *fakeActor) Serve(ctx context.Context) error {
	if f.serveErr != nil {
		return f.serveErr
	}
	select {
	case <-f.stopped:
		return dbactor.ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeActor) Stop(context.Context) error {
	if f.stops.Add(1) == 1 {
		close(f.stopped)
	}
	return nil
}

func TestDbActorService(t *testing.T) {
	t.Run("cancellation stops the actor", func(t *testing.T) {
		actor := newFakeActor()
		svc := NewDbActorService(actor, time.Second)
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() { errCh <- svc.Serve(ctx) }()
		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("Serve() = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return")
		}
		if actor.stops.Load() != 1 {
			t.Errorf("Stop called %d times", actor.stops.Load())
		}
	})

	t.Run("shutdown command ends supervision", func(t *testing.T) {
		actor := newFakeActor()
		svc := NewDbActorService(actor, time.Second)
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = actor.Stop(context.Background())
		}()
		if err := svc.Serve(context.Background()); !errors.Is(err, suture.ErrDoNotRestart) {
			t.Errorf("Serve() = %v, want ErrDoNotRestart", err)
		}
	})

	t.Run("lost connection is returned for restart", func(t *testing.T) {
		actor := newFakeActor()
		actor.serveErr = dbactor.ErrConnectionLost
		err := NewDbActorService(actor, time.Second).Serve(context.Background())
		if !errors.Is(err, dbactor.ErrConnectionLost) {
			t.Errorf("Serve() = %v", err)
		}
	})
}

func TestDbActorService_RealActorRestarts(t *testing.T) {
	actor := dbactor.New(dbactor.Config{Driver: dbactor.DriverSQLite})
	sup := suture.New("test", suture.Spec{FailureBackoff: 10 * time.Millisecond, Timeout: 2 * time.Second})
	sup.Add(NewDbActorService(actor, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := sup.ServeBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !actor.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !actor.Running() {
		t.Fatal("actor never started")
	}
	if _, err := actor.Handle().Exec(ctx, "INSERT INTO notes (entry_id, title, body, tags) VALUES (?, ?, ?, ?)", "e1", "t", "b", ""); err != nil {
		t.Fatalf("Exec: %v", err)
	}

	cancel()
	<-done
	if actor.Running() {
		t.Error("actor still running after tree shutdown")
	}
}

type fakeNATSNode struct {
	served, closed atomic.Int32
}

func (f *fakeNATSNode) Serve(pkb.Peer) error { f.served.Add(1); return nil }
func (f *fakeNATSNode) Close() error         { f.closed.Add(1); return nil }

type fakeNATSServer struct{ shutdowns atomic.Int32 }

func (f *fakeNATSServer) Shutdown(context.Context) error { f.shutdowns.Add(1); return nil }

func TestNATSNodeService(t *testing.T) {
	node := &fakeNATSNode{}
	server := &fakeNATSServer{}
	svc := NewNATSNodeService(node, nil, server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve() = %v", err)
	}
	if node.served.Load() != 1 || node.closed.Load() != 1 || server.shutdowns.Load() != 1 {
		t.Errorf("served=%d closed=%d shutdowns=%d", node.served.Load(), node.closed.Load(), server.shutdowns.Load())
	}
	if svc.String() != "nats-node" {
		t.Errorf("String() = %q", svc.String())
	}
}
