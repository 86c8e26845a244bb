// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package pkb

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Timestamp is a hybrid logical clock reading. Timestamps form a total order:
// wall time, then logical counter, then device id. Two devices can never
// produce equal timestamps, so latest-wins always has a winner.
type Timestamp struct {
	WallMillis int64  `json:"wall"`
	Logical    uint32 `json:"logical"`
	Device     string `json:"device"`
}

// Compare returns -1, 0 or +1.
func (t Timestamp) Compare(o Timestamp) int {
	switch {
	case t.WallMillis < o.WallMillis:
		return -1
	case t.WallMillis > o.WallMillis:
		return 1
	case t.Logical < o.Logical:
		return -1
	case t.Logical > o.Logical:
		return 1
	}
	return strings.Compare(t.Device, o.Device)
}

// After reports whether t is strictly later than o.
func (t Timestamp) After(o Timestamp) bool { return t.Compare(o) > 0 }

// IsZero reports whether t was never set.
func (t Timestamp) IsZero() bool { return t.WallMillis == 0 && t.Logical == 0 && t.Device == "" }

// Time returns the wall component.
func (t Timestamp) Time() time.Time { return time.UnixMilli(t.WallMillis).UTC() }

// String renders "wall.logical@device", which sorts lexically only within one wall length.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.WallMillis, t.Logical, t.Device)
}

// ParseTimestamp parses the String form.
func ParseTimestamp(s string) (Timestamp, error) {
	clock, device, ok := strings.Cut(s, "@")
	if !ok {
		return Timestamp{}, fmt.Errorf("timestamp %q: missing device", s)
	}
	wall, logical, ok := strings.Cut(clock, ".")
	if !ok {
		return Timestamp{}, fmt.Errorf("timestamp %q: missing logical counter", s)
	}
	w, err := strconv.ParseInt(wall, 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	l, err := strconv.ParseUint(logical, 10, 32)
	if err != nil {
		return Timestamp{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return Timestamp{WallMillis: w, Logical: uint32(l), Device: device}, nil
}

// Clock issues monotonically increasing timestamps for one device and folds
// in timestamps observed from other devices.
type Clock struct {
	mu     sync.Mutex
	device string
	now    func() time.Time
	last   Timestamp
}

// NewClock creates a clock for device.
func NewClock(device string) *Clock {
	return NewClockWithSource(device, time.Now)
}

// NewClockWithSource creates a clock reading wall time from now.
func NewClockWithSource(device string, now func() time.Time) *Clock {
	return &Clock{device: device, now: now}
}

// Device returns the device id stamped on issued timestamps.
func (c *Clock) Device() string { return c.device }

// Now returns a timestamp later than every timestamp previously issued or observed.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.now().UnixMilli()
	if wall > c.last.WallMillis {
		c.last = Timestamp{WallMillis: wall, Device: c.device}
	} else {
		c.last = Timestamp{WallMillis: c.last.WallMillis, Logical: c.last.Logical + 1, Device: c.device}
	}
	return c.last
}

// Observe advances the clock past a remote timestamp.
func (c *Clock) Observe(remote Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if remote.WallMillis > c.last.WallMillis ||
		(remote.WallMillis == c.last.WallMillis && remote.Logical > c.last.Logical) {
		c.last = Timestamp{WallMillis: remote.WallMillis, Logical: remote.Logical, Device: c.device}
	}
}
