// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package worker implements the download and refresh background jobs
// (components E and F): given a media or source id, they drive the
// extractor facade, reconcile the catalog, and report progress through
// the task registry.
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
	"github.com/localtube/localtube/internal/registry"
	"github.com/localtube/localtube/internal/retry"
)

// downloadRetryDelay is the fixed delay before a failed download is
// reconsidered.
const downloadRetryDelay = 5 * time.Minute

// Extractor is the subset of the extractor facade the download and
// refresh workers use. Satisfied by *extractor.Facade; an interface here
// keeps workers testable without spawning real subprocesses.
type Extractor interface {
	Download(ctx context.Context, url, mediaDir string, sponsorblock []string) (string, error)
	ProbeMetadata(ctx context.Context, url string, mode extractor.ProbeMode) (*extractor.ProbeResult, error)
	ProbeListTabs(ctx context.Context, url string) ([]catalog.Tab, error)
	StreamList(ctx context.Context, url string, order extractor.StreamOrder) (<-chan extractor.VideoRecord, <-chan error, func())
}

// Downloader drives component E: given a media id, validate
// preconditions, acquire a permit, invoke the extractor, and update the
// catalog.
type Downloader struct {
	Catalog   *catalog.Store
	Registry  *registry.Registry
	Gate      *gate.Gate
	Extractor Extractor
	Retry     *retry.Scheduler
	MediaDir  string
}

// Run executes the download job for mediaID. Every precondition failure
// (media gone, already downloaded, metadata or source missing) is a
// silent no-op; only extractor/IO errors are surfaced as a Failed task.
func (d *Downloader) Run(ctx context.Context, mediaID int64) error {
	ctx = log.ContextWithMediaID(ctx, mediaID)

	media, err := d.Catalog.GetMedia(ctx, mediaID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker: load media: %w", err)
	}
	if media.MediaPath != nil {
		return nil
	}
	if media.Metadata == nil {
		return nil
	}

	source, err := d.Catalog.GetSource(ctx, media.SourceID)
	if errors.Is(err, catalog.ErrNotFound) {
		// TODO(source-less-media): a media whose source row vanished
		// mid-flight is left in place; see DESIGN.md for the open
		// decision on deleting such rows here.
		return nil
	}
	if err != nil {
		return fmt.Errorf("worker: load source: %w", err)
	}
	if source.Metadata == nil {
		return nil
	}

	queued := d.Registry.AddTask(registry.KindDownloadVideo, media.Metadata.Title)
	ctx = log.ContextWithTaskID(ctx, queued.ID())
	logger := log.WithComponentFromContext(ctx, "worker.download")

	active, err := queued.Start(ctx, d.Gate)
	if err != nil {
		return fmt.Errorf("worker: acquire permit: %w", err)
	}
	active.UpdateStatus("Downloading…")

	path, err := d.Extractor.Download(ctx, media.Metadata.OriginalURL, d.MediaDir, source.Sponsorblock)
	if err != nil {
		logger.Warn().Err(err).Msg("download failed")
		active.MarkFailed(err.Error())

		d.Retry.Schedule(context.WithoutCancel(ctx), "download", downloadRetryDelay,
			func(ctx context.Context) (bool, error) {
				m, err := d.Catalog.GetMedia(ctx, mediaID)
				if errors.Is(err, catalog.ErrNotFound) {
					return false, nil
				}
				if err != nil {
					return false, err
				}
				return m.MediaPath == nil, nil
			},
			func(ctx context.Context) error {
				return d.Run(ctx, mediaID)
			})
		return nil
	}

	if err := d.Catalog.SetMediaPath(ctx, mediaID, &path); err != nil {
		active.MarkFailed(err.Error())
		return fmt.Errorf("worker: set media path: %w", err)
	}

	active.Complete()
	return nil
}

// RedownloadPrep clears mediaPath and best-effort-deletes the media's
// on-disk file and its .info.json sidecar, mirroring the refresh
// worker's cleanup step (§4.F.12). Used by both the redownload HTTP
// endpoint and, indirectly, by tests exercising that behavior.
func (d *Downloader) RedownloadPrep(ctx context.Context, mediaID int64) error {
	media, err := d.Catalog.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}
	if media.MediaPath != nil {
		removeMediaFiles(d.MediaDir, *media.MediaPath)
	}
	return d.Catalog.SetMediaPath(ctx, mediaID, nil)
}

func removeMediaFiles(mediaDir, relPath string) {
	full := filepath.Join(mediaDir, relPath)
	_ = os.Remove(full)

	ext := filepath.Ext(full)
	sidecar := full[:len(full)-len(ext)] + ".info.json"
	_ = os.Remove(sidecar)
}
