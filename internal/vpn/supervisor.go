// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package vpn

import (
	"context"
	"sync"
	"time"

	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/registry"
)

const (
	// consecutiveFailureThreshold is how many back-to-back failures of a
	// task kind it takes before a restart is considered.
	consecutiveFailureThreshold = 3

	// restartGate is the minimum age of both the last success and the
	// last restart before another restart is admitted. Prevents flapping
	// right after a recent success or a recent restart.
	restartGate = 30 * time.Minute
)

// triggerOrder is the priority order in which task kinds are considered
// as restart triggers: downloads first, refreshes second.
var triggerOrder = []registry.Kind{registry.KindDownloadVideo, registry.KindRefreshIndex}

// Supervisor owns the process-wide activation slot for the VPN watcher.
// Activate replaces any previous watcher with a fresh one driving the
// given controller; Deactivate drops it. Both are safe to call at any
// time from any goroutine.
type Supervisor struct {
	Registry *registry.Registry

	mu     sync.Mutex
	handle *watcherHandle
}

type watcherHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Activate marks the registry VPN-enabled and spawns the single
// long-lived watcher goroutine. A previously active watcher is shut
// down first.
func (s *Supervisor) Activate(ctrl Controller) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.stop()
		s.handle = nil
	}

	s.Registry.SetVPNEnabled(true)

	ctx, cancel := context.WithCancel(context.Background())
	h := &watcherHandle{cancel: cancel, done: make(chan struct{})}
	s.handle = h

	go s.watch(ctx, ctrl, h.done)
}

// Deactivate stops the watcher (if any) and marks the registry
// VPN-disabled, which also clears any in-progress restart flag.
func (s *Supervisor) Deactivate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != nil {
		s.handle.stop()
		s.handle = nil
	}
	s.Registry.SetVPNEnabled(false)
}

// Active reports whether a watcher is currently installed.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

func (h *watcherHandle) stop() {
	h.cancel()
	<-h.done
}

// TriggerManualRestart runs the same begin/finish protocol as the
// automatic path with the manual trigger bucket, so manual and automatic
// restarts are mutually exclusive. Returns false if the VPN is disabled
// or a restart is already outstanding.
func (s *Supervisor) TriggerManualRestart(ctx context.Context, ctrl Controller) bool {
	if !s.Registry.BeginVPNRestart(registry.KindManual) {
		return false
	}
	go s.runRestart(context.WithoutCancel(ctx), ctrl, registry.KindManual)
	return true
}

// watch is the watcher goroutine: one synchronous snapshot at startup,
// then the metrics broadcast until shutdown or channel close.
func (s *Supervisor) watch(ctx context.Context, ctrl Controller, done chan<- struct{}) {
	defer close(done)
	logger := log.WithComponent("vpn.supervisor")

	s.handleMetrics(ctx, ctrl, s.Registry.MetricsSnapshotNow())

	updates, unsubscribe := s.Registry.SubscribeMetrics()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				logger.Debug().Msg("metrics channel closed, exiting")
				return
			}
			s.handleMetrics(ctx, ctrl, snap)
		}
	}
}

func (s *Supervisor) handleMetrics(ctx context.Context, ctrl Controller, snap registry.MetricsSnapshot) {
	if !s.Registry.VPNEnabled() {
		return
	}

	for _, kind := range triggerOrder {
		m, ok := snap.ByKind[kind]
		if !ok {
			continue
		}
		if !shouldTriggerRestart(m) {
			continue
		}
		if s.Registry.BeginVPNRestart(kind) {
			log.WithComponent("vpn.supervisor").Info().
				Str(log.FieldTaskType, string(kind)).
				Int64("consecutive_failures", m.ConsecutiveFailures).
				Msg("triggering VPN restart after sustained failures")
			go s.runRestart(ctx, ctrl, kind)
		}
		return
	}
}

func (s *Supervisor) runRestart(ctx context.Context, ctrl Controller, kind registry.Kind) {
	logger := log.WithComponent("vpn.supervisor")

	outcome, err := ctrl.Restart(ctx)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldTaskType, string(kind)).Msg("VPN restart failed")
	} else {
		logger.Info().Str(log.FieldTaskType, string(kind)).Str("outcome", outcome.String()).
			Msg("VPN restart succeeded")
	}
	s.Registry.FinishVPNRestart(kind, outcome.String(), err)
}

func shouldTriggerRestart(m registry.Snapshot) bool {
	if m.RestartInProgress {
		return false
	}
	if m.ConsecutiveFailures < consecutiveFailureThreshold {
		return false
	}
	return restartGateAllows(m)
}

// restartGateAllows is the time-based admission control: with neither a
// prior success nor a prior restart on record the gate is open (a system
// that has never succeeded may restart immediately); otherwise the more
// recent of the two must be at least restartGate old.
func restartGateAllows(m registry.Snapshot) bool {
	threshold := restartGate.Seconds()

	success, restart := m.LastSuccessSecondsAgo, m.LastRestartSecondsAgo
	switch {
	case success == nil && restart == nil:
		return true
	case success == nil:
		return *restart >= threshold
	case restart == nil:
		return *success >= threshold
	default:
		return min(*success, *restart) >= threshold
	}
}
