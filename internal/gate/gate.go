// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package gate implements the bounded concurrency limiter that download
// and extraction workers acquire a permit from before spawning a yt-dlp
// subprocess.
package gate

import (
	"context"
	"time"

	"github.com/localtube/localtube/internal/metrics"
)

// Permit represents one held slot in a Gate. Release must be called
// exactly once to return the slot.
type Permit struct {
	gate *Gate
}

// Release returns the permit's slot to the gate. It is not idempotent:
// a second call frees a slot held by another permit, or blocks when no
// slot is held, so callers should pair every successful Acquire with
// exactly one Release (typically via defer).
func (p Permit) Release() {
	<-p.gate.tokens
	metrics.GatePermitsInUse.Dec()
}

// Gate is a counting semaphore bounding the number of concurrent yt-dlp
// subprocesses. Capacity is fixed at construction time from the
// configured concurrency limit.
type Gate struct {
	tokens chan struct{}
}

// New constructs a Gate with the given capacity. capacity must be >= 1.
func New(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	g := &Gate{tokens: make(chan struct{}, capacity)}
	metrics.GatePermitsTotal.Set(float64(capacity))
	return g
}

// Acquire blocks until a slot is available or ctx is done, returning a
// Permit the caller must Release. Wait time is recorded as a histogram
// observation regardless of outcome.
func (g *Gate) Acquire(ctx context.Context) (Permit, error) {
	start := time.Now()
	select {
	case g.tokens <- struct{}{}:
		metrics.GateWaitSeconds.Observe(time.Since(start).Seconds())
		metrics.GatePermitsInUse.Inc()
		return Permit{gate: g}, nil
	case <-ctx.Done():
		metrics.GateWaitSeconds.Observe(time.Since(start).Seconds())
		return Permit{}, ctx.Err()
	}
}
