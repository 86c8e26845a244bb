// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package dbactor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/pkbsync/internal/config"
	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// Backpressure policies.
const (
	BackpressureBlock    = "block"
	BackpressureFailFast = "fail_fast"
)

// DefaultQueueSize is used when Config.QueueSize is not positive.
const DefaultQueueSize = 256

const pingTimeout = 2 * time.Second

// Config configures an Actor.
type Config struct {
	Driver       string
	Path         string
	QueueSize    int
	Backpressure string
	MaxMemory    string
	Threads      int
}

// FromConfig maps the database section of the application config.
func FromConfig(c config.DatabaseConfig) Config {
	return Config{
		Driver:       c.Driver,
		Path:         c.Path,
		QueueSize:    c.QueueSize,
		Backpressure: c.Backpressure,
		MaxMemory:    c.MaxMemory,
		Threads:      c.Threads,
	}
}

type actorState int32

const (
	stateIdle actorState = iota
	stateRunning
	stateLost
	stateStopped
)

// generation is one life of the worker. done closes after the worker has
// set its final state and before it drains the queue.
type generation struct {
	done chan struct{}
}

type envelope struct {
	ctx   context.Context
	cmd   Command
	gen   *generation
	reply chan Result
}

// Option customizes an Actor.
type Option func(*Actor)

// WithOpener replaces the function that opens the connection.
func WithOpener(open Opener) Option {
	return func(a *Actor) { a.open = open }
}

// Actor serializes every database operation onto one worker goroutine.
type Actor struct {
	cfg    Config
	open   Opener
	queue  chan envelope
	logger zerolog.Logger

	state atomic.Int32
	mu    sync.Mutex
	gen   *generation
	lives int

	// beforeExec runs on the worker before each command. Tests only.
	beforeExec func(Command)
}

// New creates an actor. Nothing is opened until Start or Serve.
func New(cfg Config, opts ...Option) *Actor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Backpressure == "" {
		cfg.Backpressure = BackpressureBlock
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverDuckDB
	}
	a := &Actor{
		cfg:    cfg,
		open:   OpenDB,
		queue:  make(chan envelope, cfg.QueueSize),
		logger: logging.WithComponent("dbactor"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle returns a handle for sending commands. Handles are cheap values
// and safe to copy between goroutines.
func (a *Actor) Handle() Handle { return Handle{actor: a} }

// Start opens the connection and runs the worker in a new goroutine. It
// returns once the actor accepts commands.
func (a *Actor) Start(ctx context.Context) error {
	db, gen, err := a.boot(ctx)
	if err != nil {
		return err
	}
	go func() {
		if err := a.run(ctx, db, gen); err != nil && !errors.Is(err, ErrActorStopped) && !errors.Is(err, context.Canceled) {
			a.logger.Error().Err(err).Msg("Database actor terminated")
		}
	}()
	return nil
}

// Serve opens the connection and runs the worker until the context ends,
// a Shutdown command arrives (ErrActorStopped) or the connection is lost.
// It fits suture.Service.
func (a *Actor) Serve(ctx context.Context) error {
	db, gen, err := a.boot(ctx)
	if err != nil {
		return err
	}
	return a.run(ctx, db, gen)
}

func (a *Actor) String() string { return "dbactor" }

// Stop sends Shutdown and waits for the worker to exit. Commands queued
// before the call still run. Stopping an actor that is not running is a no-op.
func (a *Actor) Stop(ctx context.Context) error {
	a.mu.Lock()
	gen := a.gen
	a.mu.Unlock()
	if gen == nil || actorState(a.state.Load()) != stateRunning {
		return nil
	}

	res := a.send(ctx, Shutdown{}, true)
	if res.Err != nil && !IsUnavailable(res.Err) {
		return res.Err
	}
	select {
	case <-gen.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether the actor accepts commands.
func (a *Actor) Running() bool {
	return actorState(a.state.Load()) == stateRunning
}

func (a *Actor) boot(ctx context.Context) (*sql.DB, *generation, error) {
	if actorState(a.state.Load()) == stateStopped {
		return nil, nil, ErrActorStopped
	}
	db, err := a.open(ctx, a.cfg)
	if err != nil {
		return nil, nil, &DatabaseError{Op: "open", Err: err}
	}
	if err := applySchema(ctx, db); err != nil {
		closeQuietly(db)
		return nil, nil, &DatabaseError{Op: "schema", Err: err}
	}

	gen := &generation{done: make(chan struct{})}
	a.mu.Lock()
	if a.lives > 0 {
		metrics.ActorRestarts.Inc()
	}
	a.lives++
	a.gen = gen
	a.state.Store(int32(stateRunning))
	a.mu.Unlock()

	a.logger.Info().Str("driver", a.cfg.Driver).Int("queue_size", a.cfg.QueueSize).
		Str("backpressure", a.cfg.Backpressure).Msg("Database actor started")
	return db, gen, nil
}

func (a *Actor) run(ctx context.Context, db *sql.DB, gen *generation) error {
	for {
		select {
		case <-ctx.Done():
			a.finish(gen, db, stateIdle)
			return ctx.Err()

		case env := <-a.queue:
			metrics.ActorQueueDepth.Set(float64(len(a.queue)))
			if env.gen != gen {
				// Enqueued against a worker that has since died.
				env.reply <- Result{Err: ErrConnectionLost}
				continue
			}
			if _, ok := env.cmd.(Shutdown); ok {
				a.finish(gen, db, stateStopped)
				env.reply <- Result{}
				a.logger.Info().Msg("Database actor stopped")
				return ErrActorStopped
			}

			res, fatal := a.execute(db, env)
			if fatal != nil {
				a.finish(gen, db, stateLost)
				env.reply <- res
				a.logger.Error().Err(fatal).Msg("Database connection lost")
				return fatal
			}
			env.reply <- res
		}
	}
}

// execute runs one command. A non-nil second return means the worker must die.
func (a *Actor) execute(db *sql.DB, env envelope) (res Result, fatal error) {
	name := env.cmd.commandName()
	if err := env.ctx.Err(); err != nil {
		return Result{Err: err}, nil
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("%w: panic in %s: %v", ErrConnectionLost, name, r)
			res = Result{Err: &DatabaseError{Op: name, Err: fatal}}
		}
		metrics.RecordActorCommand(name, time.Since(start), res.Err)
	}()

	if a.beforeExec != nil {
		a.beforeExec(env.cmd)
	}
	res = dispatch(env.ctx, db, env.cmd)
	if res.Err == nil {
		return res, nil
	}

	pctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if perr := db.PingContext(pctx); perr != nil {
		fatal = fmt.Errorf("%w: %v", ErrConnectionLost, perr)
		res.Err = &DatabaseError{Op: name, Err: fmt.Errorf("%w: %v", fatal, res.Err)}
		return res, fatal
	}
	return res, nil
}

// finish records the final state, releases waiters and rejects whatever is
// still queued.
func (a *Actor) finish(gen *generation, db *sql.DB, final actorState) {
	a.state.Store(int32(final))
	close(gen.done)
	closeQuietly(db)

	err := stateErr(final)
	for {
		select {
		case env := <-a.queue:
			env.reply <- Result{Err: err}
		default:
			metrics.ActorQueueDepth.Set(0)
			return
		}
	}
}

func stateErr(s actorState) error {
	if s == stateLost {
		return ErrConnectionLost
	}
	return ErrActorStopped
}

// send enqueues cmd and waits for its result. force ignores fail_fast.
func (a *Actor) send(ctx context.Context, cmd Command, force bool) Result {
	a.mu.Lock()
	gen := a.gen
	st := actorState(a.state.Load())
	a.mu.Unlock()

	switch st {
	case stateRunning:
	case stateLost:
		metrics.RecordActorRejected("connection_lost")
		return Result{Err: ErrConnectionLost}
	default:
		metrics.RecordActorRejected("stopped")
		return Result{Err: ErrActorStopped}
	}

	env := envelope{ctx: ctx, cmd: cmd, gen: gen, reply: make(chan Result, 1)}
	if a.cfg.Backpressure == BackpressureFailFast && !force {
		select {
		case a.queue <- env:
		case <-gen.done:
			return Result{Err: stateErr(actorState(a.state.Load()))}
		default:
			metrics.RecordActorRejected("queue_full")
			return Result{Err: ErrQueueFull}
		}
	} else {
		select {
		case a.queue <- env:
		case <-gen.done:
			return Result{Err: stateErr(actorState(a.state.Load()))}
		case <-ctx.Done():
			return Result{Err: ctx.Err()}
		}
	}
	metrics.ActorQueueDepth.Set(float64(len(a.queue)))

	select {
	case res := <-env.reply:
		return res
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	case <-gen.done:
		// The worker may have replied just before dying.
		select {
		case res := <-env.reply:
			return res
		default:
			return Result{Err: stateErr(actorState(a.state.Load()))}
		}
	}
}
