// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package worker

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/extractor"
	"github.com/localtube/localtube/internal/gate"
	"github.com/localtube/localtube/internal/registry"
)

func mustCreateSource(t *testing.T, store *catalog.Store, s catalog.Source) int64 {
	t.Helper()
	id, err := store.CreateSource(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	return id
}

// TestRefresher_SmallListScansWholeListRegardlessOfAge:
// list_count=10, newest_first, fetch_last_days=7, 12 items
// aged now..now-11d. The small-list policy disables early-stop, so the
// full list is scanned and catalogued, but only the items still inside
// the recency window are enqueued for download.
func TestRefresher_SmallListScansWholeListRegardlessOfAge(t *testing.T) {
	store := newTestCatalog(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	srcID := mustCreateSource(t, store, catalog.Source{
		URL: "https://example.com/c", FetchLastDays: 7, RefreshFrequencyHours: 12,
	})

	var records []extractor.VideoRecord
	for i := 0; i < 12; i++ {
		ts := now.AddDate(0, 0, -i).Unix()
		records = append(records, extractor.VideoRecord{
			Title: "v", Uploader: "u", ExtractorKey: "k",
			OriginalURL: "https://example.com/v" + strconv.Itoa(i), Timestamp: ts,
		})
	}

	listCount := 10
	var enqueued []int64
	r := &Refresher{
		Catalog:  store,
		Registry: registry.New(),
		Gate:     gate.New(1),
		Extractor: &fakeExtractor{
			probeResult: &extractor.ProbeResult{
				ListKind: catalog.ListKindList, ListCount: &listCount,
				ListOrder: catalog.ListOrderNewestFirst, Uploader: "u", SourceProvider: "k",
			},
			records: records,
		},
		MediaDir: t.TempDir(),
		Enqueue:  func(id int64) { enqueued = append(enqueued, id) },
		Now:      func() time.Time { return now },
	}

	if err := r.Run(ctx, srcID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	medias, err := store.ListMediasBySource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}
	if len(medias) != 12 {
		t.Fatalf("got %d medias, want 12 (small list scans everything)", len(medias))
	}
	if len(enqueued) != 8 {
		t.Errorf("got %d enqueued downloads, want 8 (ages 0d..7d inclusive)", len(enqueued))
	}
}

// TestRefresher_LargeOldestFirstListEarlyStops:
// list_count=10000, oldest_first (streamed reversed so newest appears
// first), fetch_last_days=7. First three emitted ages: 0d, 1d, 20d — the
// third triggers early-stop; only the first two are downloaded.
func TestRefresher_LargeOldestFirstListEarlyStops(t *testing.T) {
	store := newTestCatalog(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	srcID := mustCreateSource(t, store, catalog.Source{
		URL: "https://example.com/c", FetchLastDays: 7, RefreshFrequencyHours: 12,
	})

	records := []extractor.VideoRecord{
		{Title: "a", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/a", Timestamp: now.Unix()},
		{Title: "b", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/b", Timestamp: now.AddDate(0, 0, -1).Unix()},
		{Title: "c", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/c-old", Timestamp: now.AddDate(0, 0, -20).Unix()},
		{Title: "d", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/d-older", Timestamp: now.AddDate(0, 0, -30).Unix()},
	}

	listCount := 10000
	var enqueued []int64
	r := &Refresher{
		Catalog:  store,
		Registry: registry.New(),
		Gate:     gate.New(1),
		Extractor: &fakeExtractor{
			probeResult: &extractor.ProbeResult{
				ListKind: catalog.ListKindList, ListCount: &listCount,
				ListOrder: catalog.ListOrderOldestFirst, Uploader: "u", SourceProvider: "k",
			},
			records: records,
		},
		MediaDir: t.TempDir(),
		Enqueue:  func(id int64) { enqueued = append(enqueued, id) },
		Now:      func() time.Time { return now },
	}

	if err := r.Run(ctx, srcID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	medias, err := store.ListMediasBySource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}
	if len(medias) != 2 {
		t.Fatalf("got %d medias, want 2 (early-stop after third item)", len(medias))
	}
}

// Running a refresh twice against an unchanged source changes nothing:
// same derived metadata, no new media rows, no duplicate download
// enqueues, and media_path stays set while the file exists on disk.
func TestRefresher_RefreshIsIdempotent(t *testing.T) {
	store := newTestCatalog(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	srcID := mustCreateSource(t, store, catalog.Source{
		URL: "https://example.com/c", FetchLastDays: 7, RefreshFrequencyHours: 12,
	})
	mediaDir := t.TempDir()

	listCount := 2
	records := []extractor.VideoRecord{
		{Title: "a", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/a", Timestamp: now.Unix()},
		{Title: "b", Uploader: "u", ExtractorKey: "k", OriginalURL: "https://example.com/b", Timestamp: now.AddDate(0, 0, -1).Unix()},
	}

	var enqueued []int64
	r := &Refresher{
		Catalog:  store,
		Registry: registry.New(),
		Gate:     gate.New(1),
		Extractor: &fakeExtractor{
			probeResult: &extractor.ProbeResult{
				ListKind: catalog.ListKindList, ListCount: &listCount,
				ListOrder: catalog.ListOrderNewestFirst, Uploader: "u", SourceProvider: "k",
			},
			records: records,
		},
		MediaDir: mediaDir,
		Enqueue:  func(id int64) { enqueued = append(enqueued, id) },
		Now:      func() time.Time { return now },
	}

	if err := r.Run(ctx, srcID); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if len(enqueued) != 2 {
		t.Fatalf("first run enqueued %d, want 2", len(enqueued))
	}

	// Simulate both downloads having completed with files on disk.
	medias, err := store.ListMediasBySource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range medias {
		name := "u/" + strconv.FormatInt(m.ID, 10) + ".mkv"
		if err := os.MkdirAll(filepath.Join(mediaDir, "u"), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(mediaDir, filepath.FromSlash(name)), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := store.SetMediaPath(ctx, m.ID, &name); err != nil {
			t.Fatal(err)
		}
	}

	srcAfterFirst, err := store.GetSource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Run(ctx, srcID); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if len(enqueued) != 2 {
		t.Errorf("second run added %d download enqueues, want 0", len(enqueued)-2)
	}

	mediasAfter, err := store.ListMediasBySource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}
	if len(mediasAfter) != 2 {
		t.Errorf("got %d medias after second run, want 2", len(mediasAfter))
	}
	for _, m := range mediasAfter {
		if m.MediaPath == nil {
			t.Errorf("media %d lost its media_path", m.ID)
		}
	}

	srcAfterSecond, err := store.GetSource(ctx, srcID)
	if err != nil {
		t.Fatal(err)
	}
	first, second := srcAfterFirst.Metadata, srcAfterSecond.Metadata
	if first.Uploader != second.Uploader ||
		first.SourceProvider != second.SourceProvider ||
		first.ListKind != second.ListKind ||
		first.ListOrder != second.ListOrder ||
		first.Items != second.Items ||
		*first.ListCount != *second.ListCount {
		t.Errorf("metadata changed across identical refreshes: %+v vs %+v", first, second)
	}
}

func TestStreamOrderFor_OldestFirstReverses(t *testing.T) {
	meta := &catalog.SourceMetadata{ListKind: catalog.ListKindList, ListOrder: catalog.ListOrderOldestFirst}
	if got := streamOrderFor(meta); got != extractor.ReverseOrder {
		t.Errorf("streamOrderFor() = %v, want ReverseOrder", got)
	}
}

func TestStreamOrderFor_NewestFirstIsNatural(t *testing.T) {
	meta := &catalog.SourceMetadata{ListKind: catalog.ListKindList, ListOrder: catalog.ListOrderNewestFirst}
	if got := streamOrderFor(meta); got != extractor.NaturalOrder {
		t.Errorf("streamOrderFor() = %v, want NaturalOrder", got)
	}
}

func TestEarlyStopFor_VideoAlwaysTrue(t *testing.T) {
	if !earlyStopFor(&catalog.SourceMetadata{ListKind: catalog.ListKindVideo}) {
		t.Error("expected true for Video kind")
	}
}

func TestEarlyStopFor_SmallListFalse(t *testing.T) {
	n := 25
	if earlyStopFor(&catalog.SourceMetadata{ListKind: catalog.ListKindList, ListCount: &n}) {
		t.Error("expected false for list_count <= 25")
	}
}

func TestEarlyStopFor_LargeListTrue(t *testing.T) {
	n := 26
	if !earlyStopFor(&catalog.SourceMetadata{ListKind: catalog.ListKindList, ListCount: &n}) {
		t.Error("expected true for list_count > 25")
	}
}

func TestProbeModeFor(t *testing.T) {
	cases := []struct {
		name string
		meta *catalog.SourceMetadata
		want extractor.ProbeMode
	}{
		{"no cached metadata", nil, extractor.OrderAware},
		{"cached video", &catalog.SourceMetadata{ListKind: catalog.ListKindVideo}, extractor.Minimal},
		{"cached list known order", &catalog.SourceMetadata{ListKind: catalog.ListKindList, ListOrder: catalog.ListOrderNewestFirst}, extractor.Minimal},
		{"cached list unknown order", &catalog.SourceMetadata{ListKind: catalog.ListKindList, ListOrder: catalog.ListOrderUnknown}, extractor.OrderAware},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := probeModeFor(tc.meta); got != tc.want {
				t.Errorf("probeModeFor() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRefresher_RedownloadsWhenFileGoneFromDisk(t *testing.T) {
	store := newTestCatalog(t)
	ctx := context.Background()

	srcID := mustCreateSource(t, store, catalog.Source{URL: "https://example.com/c", FetchLastDays: 365, RefreshFrequencyHours: 12})
	mediaDir := t.TempDir()

	path := "gone.mkv"
	mediaID, err := store.CreateMedia(ctx, catalog.Media{
		SourceID:  srcID,
		URL:       "https://example.com/v1",
		Metadata:  &catalog.MediaMetadata{Title: "t", OriginalURL: "https://example.com/v1", Timestamp: time.Now().Unix()},
		MediaPath: &path,
	})
	if err != nil {
		t.Fatal(err)
	}

	var enqueued []int64
	listCount := 1
	r := &Refresher{
		Catalog:  store,
		Registry: registry.New(),
		Gate:     gate.New(1),
		Extractor: &fakeExtractor{
			probeResult: &extractor.ProbeResult{ListKind: catalog.ListKindList, ListCount: &listCount, ListOrder: catalog.ListOrderNewestFirst},
			records: []extractor.VideoRecord{
				{Title: "t", OriginalURL: "https://example.com/v1", Timestamp: time.Now().Unix()},
			},
		},
		MediaDir: mediaDir,
		Enqueue:  func(id int64) { enqueued = append(enqueued, id) },
	}

	if err := r.Run(ctx, srcID); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	media, err := store.GetMedia(ctx, mediaID)
	if err != nil {
		t.Fatal(err)
	}
	if media.MediaPath != nil {
		t.Error("expected MediaPath cleared since file is absent on disk")
	}
	if len(enqueued) != 1 {
		t.Errorf("got %d enqueued, want 1", len(enqueued))
	}
}
