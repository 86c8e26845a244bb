// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/pkbsync/internal/logging"
	"github.com/tomtom215/pkbsync/internal/metrics"
)

// BreakerSettings configures the per-remote circuit breaker.
type BreakerSettings struct {
	// Failures is the number of consecutive failures that opens the breaker.
	// Zero disables breaking.
	Failures uint32
	// Timeout is how long an open breaker rejects calls before letting one through.
	Timeout time.Duration
}

// breakers holds one breaker per remote name, shared by all directories, so a
// device that is offline is skipped quickly everywhere.
type breakers struct {
	settings BreakerSettings
	m        *xsync.MapOf[string, *gobreaker.CircuitBreaker[any]]
}

func newBreakers(settings BreakerSettings) *breakers {
	return &breakers{settings: settings, m: xsync.NewMapOf[string, *gobreaker.CircuitBreaker[any]]()}
}

func (b *breakers) get(remote string) *gobreaker.CircuitBreaker[any] {
	cb, _ := b.m.LoadOrCompute(remote, func() *gobreaker.CircuitBreaker[any] {
		metrics.CircuitBreakerState.WithLabelValues(remote).Set(0)
		return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        remote,
			MaxRequests: 1,
			Timeout:     b.settings.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.settings.Failures
			},
			// A remote answering "not found" is reachable. A cancelled or
			// expired caller context says nothing about the remote.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, ErrNotFound) ||
					errors.Is(err, context.Canceled) ||
					errors.Is(err, context.DeadlineExceeded)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Info().Str("remote", name).Str("from", from.String()).Str("to", to.String()).Msg("Remote circuit breaker state changed")
				metrics.RecordBreakerTransition(name, from.String(), to.String(), breakerStateValue(to))
			},
		})
	})
	return cb
}

// call runs fn through the remote's breaker.
func call[T any](b *breakers, remote string, fn func() (T, error)) (T, error) {
	if b.settings.Failures == 0 {
		return fn()
	}
	res, err := b.get(remote).Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	v, _ := res.(T)
	return v, nil
}

// State returns the breaker state name for a remote ("closed" if never used).
func (b *breakers) state(remote string) string {
	cb, ok := b.m.Load(remote)
	if !ok {
		return gobreaker.StateClosed.String()
	}
	return cb.State().String()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
