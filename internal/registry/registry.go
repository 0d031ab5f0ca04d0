// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package registry implements the process-wide Task registry: a mapping of
// task id to Task state, per-kind TaskMetrics, and broadcast channels that
// let the VPN supervisor and the HTTP status surface observe changes
// without holding a back-reference into the registry's internals.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/localtube/localtube/internal/metrics"
)

// ErrTaskVanished is returned by QueuedHandle.Start if the task was
// removed from the registry (e.g. by a concurrent cleanup sweep) between
// acquiring a permit and marking it InProgress. This should not happen in
// practice since cleanup only targets terminal tasks, but it guards the
// invariant defensively rather than panicking.
var ErrTaskVanished = errors.New("registry: task vanished before start")

// Kind identifies the category of work a Task performs.
type Kind string

const (
	KindRefreshIndex  Kind = "RefreshIndex"
	KindDownloadVideo Kind = "DownloadVideo"
	// KindManual is the TaskMetrics bucket for manually triggered VPN
	// restarts (trigger_kind = null at the API layer). See DESIGN.md for
	// the Open Question this resolves.
	KindManual Kind = ""
)

// State is a Task's position in its lifecycle.
type State string

const (
	StateQueued     State = "Queued"
	StateInProgress State = "InProgress"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
)

// Task is an in-memory record of a running or recently finished job.
type Task struct {
	ID          string
	Kind        Kind
	Title       string
	CreatedAt   time.Time
	State       State
	CompletedAt *time.Time
	Status      string
	FailMessage string
}

// TaskMetrics is the per-kind rollup of task outcomes and VPN restart history.
type TaskMetrics struct {
	SuccessCount        int64
	FailureCount        int64
	ConsecutiveFailures int64
	LastSuccess         *time.Time
	LastFailure         *time.Time
	RestartCount        int64
	LastRestartStarted  *time.Time
	LastRestart         *time.Time
	LastRestartOutcome  *string
	LastRestartError    *string
	RestartInProgress   bool
}

func secondsAgo(t *time.Time, now time.Time) *float64 {
	if t == nil {
		return nil
	}
	s := now.Sub(*t).Seconds()
	return &s
}

// Snapshot is a read-only, point-in-time copy of a TaskMetrics, with the
// "*_seconds_ago" fields the supervisor and the status API consume.
type Snapshot struct {
	Kind                  Kind
	SuccessCount          int64
	FailureCount          int64
	ConsecutiveFailures   int64
	LastSuccessSecondsAgo *float64
	LastFailureSecondsAgo *float64
	RestartCount          int64
	LastRestartSecondsAgo *float64
	LastRestartOutcome    *string
	LastRestartError      *string
	RestartInProgress     bool
}

// MetricsSnapshot is a broadcast payload: one Snapshot per observed kind.
type MetricsSnapshot struct {
	ByKind map[Kind]Snapshot
}

// Registry is the process-wide singleton owning all Task state.
type Registry struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	metrics map[Kind]*TaskMetrics

	vpnEnabled           bool
	vpnRestartInProgress bool

	taskUpdates    *broadcaster[[]Task]
	metricsUpdates *broadcaster[MetricsSnapshot]

	now func() time.Time
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		tasks:          make(map[string]*Task),
		metrics:        make(map[Kind]*TaskMetrics),
		taskUpdates:    newBroadcaster[[]Task]("tasks"),
		metricsUpdates: newBroadcaster[MetricsSnapshot]("metrics"),
		now:            time.Now,
	}
}

func (r *Registry) metricsFor(kind Kind) *TaskMetrics {
	m, ok := r.metrics[kind]
	if !ok {
		m = &TaskMetrics{}
		r.metrics[kind] = m
	}
	return m
}

// SubscribeTasks returns a live feed of task-list snapshots.
func (r *Registry) SubscribeTasks() (<-chan []Task, func()) {
	return r.taskUpdates.subscribe()
}

// SubscribeMetrics returns a live feed of metrics snapshots.
func (r *Registry) SubscribeMetrics() (<-chan MetricsSnapshot, func()) {
	return r.metricsUpdates.subscribe()
}

func (r *Registry) snapshotTasksLocked() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	return out
}

func (r *Registry) snapshotMetricsLocked() MetricsSnapshot {
	now := r.now()
	out := MetricsSnapshot{ByKind: make(map[Kind]Snapshot, len(r.metrics))}
	for kind, m := range r.metrics {
		out.ByKind[kind] = Snapshot{
			Kind:                  kind,
			SuccessCount:          m.SuccessCount,
			FailureCount:          m.FailureCount,
			ConsecutiveFailures:   m.ConsecutiveFailures,
			LastSuccessSecondsAgo: secondsAgo(m.LastSuccess, now),
			LastFailureSecondsAgo: secondsAgo(m.LastFailure, now),
			RestartCount:          m.RestartCount,
			LastRestartSecondsAgo: secondsAgo(m.LastRestart, now),
			LastRestartOutcome:    m.LastRestartOutcome,
			LastRestartError:      m.LastRestartError,
			RestartInProgress:     m.RestartInProgress,
		}
	}
	return out
}

func (r *Registry) publishLocked() {
	r.taskUpdates.publish(r.snapshotTasksLocked())
	r.metricsUpdates.publish(r.snapshotMetricsLocked())
	syncGauges(r)
}

func syncGauges(r *Registry) {
	counts := map[Kind]int{}
	for _, t := range r.tasks {
		if t.State == StateQueued || t.State == StateInProgress {
			counts[t.Kind]++
		}
	}
	for kind, n := range counts {
		metrics.TasksActive.WithLabelValues(string(kind)).Set(float64(n))
	}
	for kind, m := range r.metrics {
		metrics.TaskConsecutiveFailures.WithLabelValues(string(kind)).Set(float64(m.ConsecutiveFailures))
	}
}

// AddTask creates a Queued Task and returns a QueuedHandle.
func (r *Registry) AddTask(kind Kind, title string) *QueuedHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		CreatedAt: r.now(),
		State:     StateQueued,
	}
	r.tasks[t.ID] = t
	r.publishLocked()

	return &QueuedHandle{registry: r, id: t.ID}
}

// removeTask finalizes a task: stamps completed_at if absent, updates the
// per-kind metrics counter if the task's state is terminal, and publishes.
// The task's current state is left intact — it is not forced to Completed.
func (r *Registry) removeTask(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return
	}
	now := r.now()
	if t.CompletedAt == nil {
		t.CompletedAt = &now
	}

	switch t.State {
	case StateCompleted:
		m := r.metricsFor(t.Kind)
		m.SuccessCount++
		m.ConsecutiveFailures = 0
		m.LastSuccess = &now
		metrics.TasksTotal.WithLabelValues(string(t.Kind), "completed").Inc()
	case StateFailed:
		m := r.metricsFor(t.Kind)
		m.FailureCount++
		m.ConsecutiveFailures++
		m.LastFailure = &now
		metrics.TasksTotal.WithLabelValues(string(t.Kind), "failed").Inc()
	default:
		// Abandoned Queued/InProgress task: no metric change, eligible
		// for the next cleanup sweep via its now-set CompletedAt.
		metrics.TasksTotal.WithLabelValues(string(t.Kind), "abandoned").Inc()
	}

	r.publishLocked()
}

// CleanupOld drops terminal or abandoned tasks past their retention window.
// Intended to be called once per second by a background loop.
func (r *Registry) CleanupOld() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	changed := false
	for id, t := range r.tasks {
		if t.CompletedAt == nil {
			continue
		}
		age := now.Sub(*t.CompletedAt)
		var ttl time.Duration
		switch t.State {
		case StateCompleted:
			ttl = 5 * time.Second
		case StateFailed:
			ttl = 30 * time.Second
		default: // Queued or InProgress, abandoned
			ttl = 5 * time.Second
		}
		if age > ttl {
			delete(r.tasks, id)
			metrics.TaskCleanupRemoved.WithLabelValues(string(t.Kind)).Inc()
			changed = true
		}
	}
	if changed {
		r.publishLocked()
	}
}

// SetVPNEnabled toggles the VPN supervisor's activation flag. Disabling
// clears any in-progress restart flag (both globally and on whichever
// kind's metrics were marked in-progress).
func (r *Registry) SetVPNEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.vpnEnabled = enabled
	if !enabled {
		r.vpnRestartInProgress = false
		for _, m := range r.metrics {
			m.RestartInProgress = false
		}
		r.publishLocked()
	}
}

// VPNEnabled reports whether the VPN supervisor is currently active.
func (r *Registry) VPNEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.vpnEnabled
}

// BeginVPNRestart attempts to start a restart cycle attributed to triggerKind
// (KindManual for the HTTP manual-restart endpoint). It returns true exactly
// once per restart cycle.
func (r *Registry) BeginVPNRestart(triggerKind Kind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.vpnEnabled || r.vpnRestartInProgress {
		return false
	}

	now := r.now()
	r.vpnRestartInProgress = true
	m := r.metricsFor(triggerKind)
	m.RestartInProgress = true
	m.LastRestartStarted = &now
	m.LastRestartError = nil
	m.LastRestartOutcome = nil

	metrics.VPNRestartInProgress.Set(1)
	r.publishLocked()
	return true
}

// FinishVPNRestart clears the in-progress flag and records the outcome.
// err == nil is treated as success: RestartCount increments, the trigger
// kind's ConsecutiveFailures resets to 0, and LastRestartOutcome is set.
// err != nil records LastRestartError and leaves ConsecutiveFailures intact.
func (r *Registry) FinishVPNRestart(triggerKind Kind, outcome string, restartErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.vpnRestartInProgress = false
	m := r.metricsFor(triggerKind)
	m.RestartInProgress = false
	m.LastRestart = &now

	label := "success"
	if restartErr != nil {
		label = "failure"
		errMsg := restartErr.Error()
		m.LastRestartError = &errMsg
	} else {
		m.RestartCount++
		m.LastRestartOutcome = &outcome
		m.LastRestartError = nil
		m.ConsecutiveFailures = 0
	}

	metrics.VPNRestartInProgress.Set(0)
	metrics.VPNRestarts.WithLabelValues(string(triggerKind), label).Inc()
	r.publishLocked()
}

// MetricsSnapshotNow returns the current metrics snapshot synchronously,
// used by the VPN supervisor's startup read before it subscribes.
func (r *Registry) MetricsSnapshotNow() MetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotMetricsLocked()
}

// TasksSnapshotNow returns a point-in-time copy of every live task,
// used by the HTTP status surface.
func (r *Registry) TasksSnapshotNow() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotTasksLocked()
}
