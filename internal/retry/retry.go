// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package retry implements the fire-and-forget delayed re-enqueue
// primitive used by the download worker to retry a failed download after
// a fixed delay, gated by a "still needed?" predicate evaluated at fire
// time rather than at schedule time.
package retry

import (
	"context"
	"time"

	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/metrics"
)

// Check reports whether action should still run. Evaluated once, after
// delay has elapsed.
type Check func(ctx context.Context) (bool, error)

// Action is the work to perform if Check returns true.
type Action func(ctx context.Context) error

// Scheduler fires delayed, gated actions. It holds no state beyond the
// delay function; the reason label used for metrics is passed to each
// Schedule call, and callers own cancellation via the context passed to
// Schedule.
type Scheduler struct {
	// after is overridable in tests so the delay can be simulated without
	// sleeping in real time.
	after func(d time.Duration) <-chan time.Time
}

// New constructs a Scheduler that uses time.After for delays.
func New() *Scheduler {
	return &Scheduler{after: time.After}
}

// Schedule spawns a goroutine that waits delay, then evaluates check; if
// check returns true, it runs action. Any error from check or action is
// logged and never propagated — this primitive is fire-and-forget by
// design. If ctx is cancelled before delay elapses, the retry is skipped
// entirely without evaluating check.
func (s *Scheduler) Schedule(ctx context.Context, reason string, delay time.Duration, check Check, action Action) {
	metrics.RetryScheduled.WithLabelValues(reason).Inc()

	go func() {
		select {
		case <-ctx.Done():
			metrics.RetryExecuted.WithLabelValues(reason, "cancelled").Inc()
			return
		case <-s.after(delay):
		}

		logger := log.WithComponent("retry")

		needed, err := check(ctx)
		if err != nil {
			logger.Warn().Err(err).Str("reason", reason).Msg("retry check failed")
			metrics.RetryExecuted.WithLabelValues(reason, "check_error").Inc()
			return
		}
		if !needed {
			metrics.RetryExecuted.WithLabelValues(reason, "skipped").Inc()
			return
		}

		if err := action(ctx); err != nil {
			logger.Warn().Err(err).Str("reason", reason).Msg("retry action failed")
			metrics.RetryExecuted.WithLabelValues(reason, "action_error").Inc()
			return
		}
		metrics.RetryExecuted.WithLabelValues(reason, "ran").Inc()
	}()
}
