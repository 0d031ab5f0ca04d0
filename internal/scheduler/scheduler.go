// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package scheduler drives the periodic sweep that decides which sources
// are due for a refresh and hands them off to the refresh worker.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/config"
	"github.com/localtube/localtube/internal/log"
)

// jitterWindow bounds the pseudo-random offset applied to each source's
// due time, spreading sources that share a refresh frequency across a
// 30-minute band instead of firing in lockstep.
const jitterWindow = 1800 // seconds

// Scheduler periodically sweeps every Source and enqueues a refresh job
// for each one whose due time has passed. A source is "due" once
// RefreshFrequencyHours have elapsed since its last completed refresh,
// offset by a deterministic jitter derived from that refresh's own
// timestamp.
//
// The two-clock design (LastRefreshedAt, LastScheduledRefresh) prevents a
// slow-running refresh from being re-enqueued by the next sweep tick: the
// scheduler stamps LastScheduledRefresh at enqueue time, and a source is
// skipped while that stamp is still inside its frequency window.
type Scheduler struct {
	Catalog *catalog.Store

	// Enqueue hands a due source id to the job queue that drives
	// worker.Refresher.Run. Required.
	Enqueue func(sourceID int64)

	// SweepInterval overrides config.RefreshSweepInterval; zero uses the
	// package default.
	SweepInterval time.Duration

	// Now is overridable in tests.
	Now func() time.Time

	group singleflight.Group
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) sweepInterval() time.Duration {
	if s.SweepInterval > 0 {
		return s.SweepInterval
	}
	return time.Duration(config.RefreshSweepInterval) * time.Second
}

// Run blocks, sweeping on every tick of SweepInterval until ctx is
// cancelled. The first sweep runs immediately, without waiting a full tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	sources, err := s.Catalog.ListSources(ctx)
	if err != nil {
		log.WithComponentFromContext(ctx, "scheduler").Error().Err(err).Msg("list sources")
		return
	}
	now := s.now()
	for _, src := range sources {
		if !s.isDue(src, now) {
			continue
		}
		s.ScheduleRefresh(ctx, src.ID, false)
	}
}

// isDue reports whether source is due for a refresh at now. Both clocks
// must agree: the refresh clock says the last completed refresh is older
// than the jittered frequency window (or the source has never produced
// metadata), and the schedule clock says no enqueue happened inside that
// same window. The schedule clock expiring on the same window means a
// source whose refresh job was enqueued but never completed (worker
// crash, process restart) becomes eligible again after one full period
// rather than being stuck forever.
func (s *Scheduler) isDue(src catalog.Source, now time.Time) bool {
	window := time.Duration(src.RefreshFrequencyHours)*time.Hour + jitter(src.LastRefreshedAt)

	timePassed := func(ts *time.Time) bool {
		return ts == nil || now.Sub(*ts) > window
	}

	needRefresh := src.Metadata == nil || timePassed(src.LastRefreshedAt)
	needSchedule := timePassed(src.LastScheduledRefresh)
	return needRefresh && needSchedule
}

// jitter derives a deterministic offset in [-jitterWindow/2,
// +jitterWindow/2) seconds from the last refresh timestamp, so sources
// sharing a refresh frequency don't all become due at the same instant.
// A never-refreshed source gets no jitter.
func jitter(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	mod := t.Unix() % jitterWindow
	if mod < 0 {
		mod += jitterWindow
	}
	return time.Duration(mod-jitterWindow/2) * time.Second
}

// ScheduleRefresh marks sourceID as scheduled and enqueues a refresh job
// for it. Concurrent calls for the same source are collapsed into one
// enqueue via singleflight. With force set, the two-clock dedup check in
// the periodic sweep is bypassed — used by the manual "refresh now" HTTP
// endpoint.
func (s *Scheduler) ScheduleRefresh(ctx context.Context, sourceID int64, force bool) {
	logger := log.WithComponentFromContext(ctx, "scheduler")

	if !force {
		src, err := s.Catalog.GetSource(ctx, sourceID)
		if err != nil {
			logger.Warn().Err(err).Int64("source_id", sourceID).Msg("schedule refresh: load source")
			return
		}
		if !s.isDue(*src, s.now()) {
			return
		}
	}

	key := fmt.Sprintf("source:%d", sourceID)
	go func() {
		_, _, _ = s.group.Do(key, func() (interface{}, error) {
			if err := s.Catalog.MarkScheduled(ctx, sourceID, s.now()); err != nil {
				logger.Warn().Err(err).Int64("source_id", sourceID).Msg("mark scheduled")
				return nil, err
			}
			s.Enqueue(sourceID)
			return nil, nil
		})
	}()
}
