// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/extractor"
	"github.com/localtube/localtube/internal/gate"
	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/metrics"
	"github.com/localtube/localtube/internal/registry"
)

// smallListThreshold is the list_count at or below which the refresh worker
// scans the whole list instead of early-stopping at the recency cutoff.
const smallListThreshold = 25

// Refresher drives component F: given a source id, probe metadata,
// enumerate items via the extractor, reconcile the catalog, enqueue
// downloads, and evict stale items.
type Refresher struct {
	Catalog   *catalog.Store
	Registry  *registry.Registry
	Gate      *gate.Gate
	Extractor Extractor
	MediaDir  string

	// Enqueue schedules a download job for a media id. In production
	// this posts to the job queue that drives Downloader.Run; tests may
	// substitute a recording stub.
	Enqueue func(mediaID int64)

	// Now is overridable in tests.
	Now func() time.Time
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Run executes the refresh job for sourceID.
func (r *Refresher) Run(ctx context.Context, sourceID int64) error {
	ctx = log.ContextWithSourceID(ctx, sourceID)

	source, err := r.Catalog.GetSource(ctx, sourceID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker: load source: %w", err)
	}

	title := source.URL
	if source.Metadata != nil && source.Metadata.Uploader != "" {
		title = source.Metadata.Uploader
	}
	queued := r.Registry.AddTask(registry.KindRefreshIndex, title)
	ctx = log.ContextWithTaskID(ctx, queued.ID())
	logger := log.WithComponentFromContext(ctx, "worker.refresh")

	active, err := queued.Start(ctx, r.Gate)
	if err != nil {
		return fmt.Errorf("worker: acquire permit: %w", err)
	}

	if err := r.runRefresh(ctx, active, source); err != nil {
		logger.Warn().Err(err).Msg("refresh failed")
		active.MarkFailed(err.Error())
		metrics.RefreshRuns.WithLabelValues("scheduler", "failure").Inc()
		return nil
	}

	active.Complete()
	metrics.RefreshRuns.WithLabelValues("scheduler", "success").Inc()
	return nil
}

func (r *Refresher) runRefresh(ctx context.Context, active *registry.ActiveHandle, source *catalog.Source) error {
	active.UpdateStatus("Fetching channel metadata…")

	var cachedTab string
	if source.Metadata != nil {
		cachedTab = source.Metadata.ListTab
	}

	tabs, tabErr := r.Extractor.ProbeListTabs(ctx, source.URL)
	if tabErr != nil && source.Metadata != nil {
		tabs = source.Metadata.ListTabs
	}
	hasTabs := len(tabs) > 0

	effectiveURL, selectedTab := resolveEffectiveURL(source.URL, tabs, cachedTab)
	tabChanged := selectedTab != cachedTab

	mode := probeModeFor(source.Metadata)

	probe, err := r.Extractor.ProbeMetadata(ctx, effectiveURL, mode)
	if err != nil {
		return fmt.Errorf("worker: probe metadata: %w", err)
	}

	newMeta := deriveSourceMetadata(source.Metadata, probe, hasTabs, selectedTab, tabChanged, tabs)
	if err := r.Catalog.UpdateSourceMetadata(ctx, source.ID, newMeta); err != nil {
		return fmt.Errorf("worker: persist source metadata: %w", err)
	}
	source.Metadata = newMeta

	fetchBefore := r.now().AddDate(0, 0, -source.FetchLastDays).Unix()
	earlyStopEnabled := earlyStopFor(newMeta)
	streamOrder := streamOrderFor(newMeta)

	recCh, errCh, stop := r.Extractor.StreamList(ctx, effectiveURL, streamOrder)
	defer stop()

	var sawNewerItem bool
	n := 0
	for rec := range recCh {
		n++
		active.UpdateStatus(fmt.Sprintf("Processing video %d (%s)", n, rec.Title))

		if rec.Timestamp >= fetchBefore {
			sawNewerItem = true
		}
		orderKnown := newMeta.ListOrder != catalog.ListOrderUnknown
		if earlyStopEnabled && rec.Timestamp < fetchBefore && (orderKnown || sawNewerItem) {
			break
		}

		if err := r.reconcileMedia(ctx, source.ID, rec, rec.Timestamp >= fetchBefore); err != nil {
			return fmt.Errorf("worker: reconcile media: %w", err)
		}
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("worker: stream list: %w", err)
	}

	active.UpdateStatus("Cleaning up old videos…")
	if err := r.evictStale(ctx, source.ID, fetchBefore); err != nil {
		return fmt.Errorf("worker: evict stale medias: %w", err)
	}

	return r.Catalog.MarkRefreshed(ctx, source.ID, r.now())
}

func probeModeFor(meta *catalog.SourceMetadata) extractor.ProbeMode {
	if meta == nil {
		return extractor.OrderAware
	}
	switch meta.ListKind {
	case catalog.ListKindVideo:
		return extractor.Minimal
	case catalog.ListKindList:
		if meta.ListOrder != catalog.ListOrderUnknown {
			return extractor.Minimal
		}
		return extractor.OrderAware
	default:
		return extractor.OrderAware
	}
}

func deriveSourceMetadata(cached *catalog.SourceMetadata, probe *extractor.ProbeResult, hasTabs bool, selectedTab string, tabChanged bool, tabs []catalog.Tab) *catalog.SourceMetadata {
	out := &catalog.SourceMetadata{
		ListKind: probe.ListKind,
		ListTab:  selectedTab,
		ListTabs: tabs,
	}

	switch {
	case probe.ListCount != nil:
		out.ListCount = probe.ListCount
	case hasTabs && selectedTab == "":
		out.ListCount = nil
	case !tabChanged && cached != nil:
		out.ListCount = cached.ListCount
	}

	out.ListOrder = probe.ListOrder
	if out.ListOrder == catalog.ListOrderUnknown && !tabChanged && cached != nil {
		out.ListOrder = cached.ListOrder
	}

	out.Uploader = probe.Uploader
	if out.Uploader == "" && cached != nil {
		out.Uploader = cached.Uploader
	}
	out.SourceProvider = probe.SourceProvider
	if out.SourceProvider == "" && cached != nil {
		out.SourceProvider = cached.SourceProvider
	}
	if out.SourceProvider == "" {
		out.SourceProvider = "unknown"
	}

	switch {
	case out.ListKind == catalog.ListKindVideo:
		out.Items = 1
	case tabChanged || (hasTabs && selectedTab == ""):
		out.Items = 0
	case out.ListCount != nil:
		out.Items = *out.ListCount
	case cached != nil:
		out.Items = cached.Items
	default:
		out.Items = 0
	}

	return out
}

func earlyStopFor(meta *catalog.SourceMetadata) bool {
	if meta.ListKind == catalog.ListKindVideo {
		return true
	}
	if meta.ListCount != nil && *meta.ListCount <= smallListThreshold {
		return false
	}
	return true
}

func streamOrderFor(meta *catalog.SourceMetadata) extractor.StreamOrder {
	if meta.ListKind == catalog.ListKindList && meta.ListOrder == catalog.ListOrderOldestFirst {
		return extractor.ReverseOrder
	}
	return extractor.NaturalOrder
}

// reconcileMedia upserts the catalog row for one streamed record.
// wantDownload is false for items already outside the recency window:
// they are catalogued (so the eviction sweep sees their timestamps) but
// never enqueued for download.
func (r *Refresher) reconcileMedia(ctx context.Context, sourceID int64, rec extractor.VideoRecord, wantDownload bool) error {
	mediaMeta := &catalog.MediaMetadata{
		Title:        rec.Title,
		Description:  rec.Description,
		Duration:     rec.Duration,
		ExtractorKey: rec.ExtractorKey,
		OriginalURL:  rec.OriginalURL,
		Timestamp:    rec.Timestamp,
	}

	existing, err := r.Catalog.FindMediaBySourceAndURL(ctx, sourceID, rec.OriginalURL)
	if errors.Is(err, catalog.ErrNotFound) {
		id, err := r.Catalog.CreateMedia(ctx, catalog.Media{
			SourceID: sourceID,
			URL:      rec.OriginalURL,
			Metadata: mediaMeta,
		})
		if err != nil {
			return err
		}
		metrics.RefreshMediasDiscovered.Inc()
		if wantDownload {
			r.enqueueDownload(id)
		}
		return nil
	}
	if err != nil {
		return err
	}

	needsDownload := existing.MediaPath == nil
	if existing.MediaPath != nil && !fileExistsUnder(r.MediaDir, *existing.MediaPath) {
		if err := r.Catalog.SetMediaPath(ctx, existing.ID, nil); err != nil {
			return err
		}
		needsDownload = true
	}

	if err := r.Catalog.UpdateMediaMetadata(ctx, existing.ID, mediaMeta); err != nil {
		return err
	}

	if needsDownload && wantDownload {
		r.enqueueDownload(existing.ID)
	}
	return nil
}

func (r *Refresher) enqueueDownload(mediaID int64) {
	if r.Enqueue != nil {
		r.Enqueue(mediaID)
	}
}

func fileExistsUnder(mediaDir, relPath string) bool {
	_, err := os.Stat(filepath.Join(mediaDir, relPath))
	return err == nil
}

func (r *Refresher) evictStale(ctx context.Context, sourceID int64, fetchBefore int64) error {
	medias, err := r.Catalog.ListMediasBySource(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, m := range medias {
		if m.Metadata == nil || m.Metadata.Timestamp >= fetchBefore || m.MediaPath == nil {
			continue
		}
		removeMediaFiles(r.MediaDir, *m.MediaPath)
		if err := r.Catalog.DeleteMedia(ctx, m.ID); err != nil {
			return err
		}
		metrics.RefreshMediasPruned.Inc()
	}
	return nil
}
