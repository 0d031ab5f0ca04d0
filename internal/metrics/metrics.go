// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics exposes the Prometheus instrumentation for localtube's
// task orchestration, extractor, VPN supervision and streaming components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task registry (component B)
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_tasks_total",
			Help: "Total tasks observed by type and terminal outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	TasksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "localtube_tasks_active",
			Help: "Number of tasks currently queued or in progress, by type.",
		},
		[]string{"task_type"},
	)

	TaskConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "localtube_task_consecutive_failures",
			Help: "Consecutive failures observed for a task type.",
		},
		[]string{"task_type"},
	)

	TaskCleanupRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_task_cleanup_removed_total",
			Help: "Tasks removed from the registry by the periodic cleanup sweep, by type.",
		},
		[]string{"task_type"},
	)

	// Concurrency gate (component C)
	GatePermitsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localtube_gate_permits_in_use",
			Help: "Number of yt-dlp concurrency permits currently held.",
		},
	)

	GatePermitsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localtube_gate_permits_total",
			Help: "Total configured yt-dlp concurrency permits.",
		},
	)

	GateWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "localtube_gate_wait_seconds",
			Help:    "Time spent waiting to acquire a concurrency permit.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Retry scheduler (component D)
	RetryScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_retry_scheduled_total",
			Help: "Retries scheduled, by reason.",
		},
		[]string{"reason"},
	)

	RetryExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_retry_executed_total",
			Help: "Retries executed versus skipped (no longer needed), by reason.",
		},
		[]string{"reason", "outcome"},
	)

	// Extractor facade (component A)
	ExtractorInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_extractor_invocations_total",
			Help: "yt-dlp invocations by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	ExtractorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "localtube_extractor_duration_seconds",
			Help:    "yt-dlp invocation duration by operation.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"operation"},
	)

	// Refresh worker (component F/G)
	RefreshRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_refresh_runs_total",
			Help: "Source refresh runs by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	RefreshMediasDiscovered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localtube_refresh_medias_discovered_total",
			Help: "New media rows discovered across all refresh runs.",
		},
	)

	RefreshMediasPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localtube_refresh_medias_pruned_total",
			Help: "Media rows removed by refresh cleanup sweeps.",
		},
	)

	// VPN supervisor/controller (component H/I)
	VPNRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_vpn_restarts_total",
			Help: "VPN restarts by trigger task type and outcome.",
		},
		[]string{"trigger_task_type", "outcome"},
	)

	VPNRestartDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "localtube_vpn_restart_duration_seconds",
			Help:    "Time taken to complete a VPN stop/start restart cycle.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	VPNRestartInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "localtube_vpn_restart_in_progress",
			Help: "1 if a VPN restart is currently in progress, else 0.",
		},
	)

	// Media streamer (component J)
	StreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_stream_requests_total",
			Help: "Media stream requests by HTTP status code.",
		},
		[]string{"status"},
	)

	StreamBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "localtube_stream_bytes_served_total",
			Help: "Total bytes served to media stream clients.",
		},
	)

	// Process group supervision (extractor subprocess lifecycle)
	procTerminateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_proc_terminate_total",
			Help: "Process group termination signals sent, by signal and outcome.",
		},
		[]string{"signal", "outcome"},
	)

	procWaitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "localtube_proc_wait_total",
			Help: "Process group wait outcomes after a termination signal.",
		},
		[]string{"outcome"},
	)
)

// IncProcTerminate records that a termination signal was sent to a
// supervised process group.
func IncProcTerminate(signal, outcome string) {
	procTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records the outcome of waiting for a supervised process
// group to exit after a termination signal.
func IncProcWait(outcome string) {
	procWaitTotal.WithLabelValues(outcome).Inc()
}
