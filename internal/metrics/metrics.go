// PKBSync - Personal Knowledge Base Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pkbsync

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Directory store
	ChunksCommitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_chunks_committed_total",
			Help: "Chunks committed into directory repositories",
		},
		[]string{"directory", "content_type", "op"}, // op: added, updated, removed, pulled
	)

	RepositoryCommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pkb_repository_commit_duration_seconds",
			Help:    "Time to commit one record into a directory repository",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// Sync
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_sync_runs_total",
			Help: "Directory sync runs by outcome",
		},
		[]string{"directory", "outcome"}, // completed, partial, failed
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pkb_sync_duration_seconds",
			Help:    "Duration of one directory sync",
			Buckets: prometheus.DefBuckets,
		},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_sync_records_total",
			Help: "Records exchanged with remotes",
		},
		[]string{"direction"}, // pulled, pushed
	)

	MergeDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_merge_decisions_total",
			Help: "Per-path merge decisions",
		},
		[]string{"decision"}, // keep_local, take_remote, identical, conflict
	)

	// Circuit breaker per remote
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pkb_remote_circuit_breaker_state",
			Help: "Remote circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"remote"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_remote_circuit_breaker_transitions_total",
			Help: "Remote circuit breaker state transitions",
		},
		[]string{"remote", "from", "to"},
	)

	// Database actor
	ActorQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pkb_dbactor_queue_depth",
			Help: "Commands waiting in the database actor queue",
		},
	)

	ActorCommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pkb_dbactor_command_duration_seconds",
			Help:    "Database actor command execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	ActorCommandErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_dbactor_command_errors_total",
			Help: "Database actor command failures",
		},
		[]string{"command"},
	)

	ActorRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_dbactor_rejected_total",
			Help: "Commands rejected before execution",
		},
		[]string{"reason"}, // queue_full, connection_lost, stopped
	)

	ActorRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pkb_dbactor_worker_failures_total",
			Help: "Database actor workers terminated by a panic or fatal connection error",
		},
	)

	// Event bus and indexer
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_events_dropped_total",
			Help: "Events dropped by TryEmit because a subscriber was full",
		},
		[]string{"kind"},
	)

	EventsForwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_events_forwarded_total",
			Help: "Events published to external observers",
		},
		[]string{"kind", "result"},
	)

	IndexerEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_indexer_events_total",
			Help: "Events handled by the relational indexer",
		},
		[]string{"kind", "result"}, // result: indexed, skipped, failed
	)

	// Ingestion
	IngestItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_ingest_items_total",
			Help: "Ingested media items by outcome",
		},
		[]string{"source", "outcome"}, // processed, duplicate, failed
	)

	IngestDedupEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pkb_ingest_dedup_entries",
			Help: "Source ids held by the ingestion recency cache",
		},
	)

	IngestDedupLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_ingest_dedup_lookups_total",
			Help: "Recency cache lookups by result",
		},
		[]string{"result"}, // hit, miss
	)

	IngestDedupExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pkb_ingest_dedup_expired_total",
			Help: "Source ids dropped from the recency cache after their window",
		},
	)

	IngestPollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pkb_ingest_poll_duration_seconds",
			Help:    "Duration of one source poll",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	// HTTP
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkb_api_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordChunkCommitted counts one record written into a directory repository.
func RecordChunkCommitted(directory, contentType, op string, duration time.Duration) {
	ChunksCommitted.WithLabelValues(directory, contentType, op).Inc()
	RepositoryCommitDuration.Observe(duration.Seconds())
}

// RecordSyncRun records the outcome of one directory sync.
func RecordSyncRun(directory, outcome string, duration time.Duration, pulled, pushed int) {
	SyncRuns.WithLabelValues(directory, outcome).Inc()
	SyncDuration.Observe(duration.Seconds())
	SyncRecords.WithLabelValues("pulled").Add(float64(pulled))
	SyncRecords.WithLabelValues("pushed").Add(float64(pushed))
}

// RecordMergeDecision counts one per-path merge decision.
func RecordMergeDecision(decision string) {
	MergeDecisions.WithLabelValues(decision).Inc()
}

// RecordBreakerTransition records a remote circuit breaker state change.
// States are encoded 0=closed, 1=half-open, 2=open.
func RecordBreakerTransition(remote, from, to string, state float64) {
	CircuitBreakerState.WithLabelValues(remote).Set(state)
	CircuitBreakerTransitions.WithLabelValues(remote, from, to).Inc()
}

// RecordActorCommand records one executed actor command.
func RecordActorCommand(command string, duration time.Duration, err error) {
	ActorCommandDuration.WithLabelValues(command).Observe(duration.Seconds())
	if err != nil {
		ActorCommandErrors.WithLabelValues(command).Inc()
	}
}

// RecordActorRejected counts a command refused before it reached the worker.
func RecordActorRejected(reason string) {
	ActorRejected.WithLabelValues(reason).Inc()
}

// RecordEventDropped counts an event TryEmit could not deliver.
func RecordEventDropped(kind string) {
	EventsDropped.WithLabelValues(kind).Inc()
}

// RecordEventForwarded counts one forwarded event.
func RecordEventForwarded(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsForwarded.WithLabelValues(kind, result).Inc()
}

// RecordIndexerEvent counts one indexer outcome.
func RecordIndexerEvent(kind, result string) {
	IndexerEvents.WithLabelValues(kind, result).Inc()
}

// RecordIngest adds batch outcome counts for a source.
func RecordIngest(source string, processed, duplicates, failed int) {
	IngestItems.WithLabelValues(source, "processed").Add(float64(processed))
	IngestItems.WithLabelValues(source, "duplicate").Add(float64(duplicates))
	IngestItems.WithLabelValues(source, "failed").Add(float64(failed))
}

// RecordDedupSweep publishes one recency cache sweep. hits and misses are
// the lookups since the previous sweep.
func RecordDedupSweep(expired int, hits, misses int64, size int) {
	IngestDedupExpired.Add(float64(expired))
	IngestDedupLookups.WithLabelValues("hit").Add(float64(hits))
	IngestDedupLookups.WithLabelValues("miss").Add(float64(misses))
	IngestDedupEntries.Set(float64(size))
}

// RecordAPIRequest counts one admin API request.
func RecordAPIRequest(method, route, status string) {
	APIRequests.WithLabelValues(method, route, status).Inc()
}
