// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	io_prometheus_client "github.com/prometheus/client_model/go"
)

func getGaugeValue(gauge prometheus.Gauge) float64 {
	var m io_prometheus_client.Metric
	if err := gauge.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

func TestRecordChunkCommitted(t *testing.T) {
	before := testutil.ToFloat64(ChunksCommitted.WithLabelValues("notes", "note", "added"))
	RecordChunkCommitted("notes", "note", "added", time.Millisecond)
	after := testutil.ToFloat64(ChunksCommitted.WithLabelValues("notes", "note", "added"))

	if after-before != 1 {
		t.Errorf("expected counter to increase by 1, got %v", after-before)
	}
}

func TestRecordSyncRun(t *testing.T) {
	pulledBefore := testutil.ToFloat64(SyncRecords.WithLabelValues("pulled"))
	pushedBefore := testutil.ToFloat64(SyncRecords.WithLabelValues("pushed"))

	RecordSyncRun("bookmarks", "completed", 2*time.Second, 3, 5)

	if got := testutil.ToFloat64(SyncRecords.WithLabelValues("pulled")) - pulledBefore; got != 3 {
		t.Errorf("pulled delta = %v, want 3", got)
	}
	if got := testutil.ToFloat64(SyncRecords.WithLabelValues("pushed")) - pushedBefore; got != 5 {
		t.Errorf("pushed delta = %v, want 5", got)
	}
}

func TestRecordActorCommand(t *testing.T) {
	before := testutil.ToFloat64(ActorCommandErrors.WithLabelValues("query"))

	RecordActorCommand("query", time.Millisecond, nil)
	RecordActorCommand("query", time.Millisecond, errors.New("syntax error"))

	if got := testutil.ToFloat64(ActorCommandErrors.WithLabelValues("query")) - before; got != 1 {
		t.Errorf("error delta = %v, want 1", got)
	}
}

func TestRecordBreakerTransition(t *testing.T) {
	RecordBreakerTransition("phone-a1b2c3d4", "closed", "open", 2)

	if got := getGaugeValue(CircuitBreakerState.WithLabelValues("phone-a1b2c3d4")); got != 2 {
		t.Errorf("state gauge = %v, want 2", got)
	}
}

func TestRecordIngest(t *testing.T) {
	before := testutil.ToFloat64(IngestItems.WithLabelValues("camera", "duplicate"))
	RecordIngest("camera", 4, 2, 1)

	if got := testutil.ToFloat64(IngestItems.WithLabelValues("camera", "duplicate")) - before; got != 2 {
		t.Errorf("duplicate delta = %v, want 2", got)
	}
}

func TestActorQueueDepth(t *testing.T) {
	ActorQueueDepth.Set(7)
	if got := getGaugeValue(ActorQueueDepth); got != 7 {
		t.Errorf("queue depth = %v, want 7", got)
	}
}
