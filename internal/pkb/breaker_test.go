// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestBreaker_CallerContextDoesNotTrip(t *testing.T) {
	b := newBreakers(BreakerSettings{Failures: 1, Timeout: time.Minute})
	const remote = "phone-ctx"

	for _, cerr := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("fetch head: %w", context.DeadlineExceeded),
		fmt.Errorf("entry: %w", ErrNotFound),
	} {
		_, err := call(b, remote, func() (int, error) { return 0, cerr })
		if !errors.Is(err, cerr) {
			t.Fatalf("call() error = %v, want %v", err, cerr)
		}
		if got := b.state(remote); got != "closed" {
			t.Fatalf("state after %v = %q, want closed", cerr, got)
		}
	}

	v, err := call(b, remote, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("call() = %d, %v; want 7, nil", v, err)
	}
}

func TestBreaker_RemoteFailureTrips(t *testing.T) {
	b := newBreakers(BreakerSettings{Failures: 2, Timeout: time.Minute})
	const remote = "phone-down"
	down := errors.New("node unreachable: phone-down")

	for i := 0; i < 2; i++ {
		if _, err := call(b, remote, func() (int, error) { return 0, down }); !errors.Is(err, down) {
			t.Fatalf("call %d error = %v, want %v", i, err, down)
		}
	}
	if got := b.state(remote); got != "open" {
		t.Fatalf("state = %q, want open", got)
	}

	ran := false
	_, err := call(b, remote, func() (int, error) { ran = true; return 0, nil })
	if err == nil || ran {
		t.Fatalf("open breaker ran fn (ran=%v, err=%v)", ran, err)
	}
}

func TestBreaker_Disabled(t *testing.T) {
	b := newBreakers(BreakerSettings{})
	down := errors.New("down")
	for i := 0; i < 5; i++ {
		_, _ = call(b, "x", func() (int, error) { return 0, down })
	}
	if got := b.state("x"); got != "closed" {
		t.Fatalf("state = %q, want closed", got)
	}
}
