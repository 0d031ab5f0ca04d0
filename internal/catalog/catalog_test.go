// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "catalog.sqlite")
	db, err := Open(dbPath, 1)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return New(db)
}

func TestCreateAndGetSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSource(ctx, Source{
		URL:                   "https://example.com/@channel",
		FetchLastDays:         7,
		RefreshFrequencyHours: 12,
		Sponsorblock:          []string{"sponsor", "intro"},
	})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}

	got, err := store.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.URL != "https://example.com/@channel" || got.FetchLastDays != 7 {
		t.Errorf("GetSource() = %+v", got)
	}
	if len(got.Sponsorblock) != 2 {
		t.Errorf("Sponsorblock = %v, want 2 categories", got.Sponsorblock)
	}
	if got.Metadata != nil {
		t.Errorf("expected nil metadata before first refresh, got %+v", got.Metadata)
	}
}

func TestGetSource_NotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetSource(context.Background(), 9999); err != ErrNotFound {
		t.Errorf("GetSource() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSourceMetadata_RoundTrips(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSource(ctx, Source{URL: "https://example.com/x", FetchLastDays: 30, RefreshFrequencyHours: 24})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}

	count := 10
	meta := &SourceMetadata{
		Uploader:       "Some Channel",
		SourceProvider: "youtube",
		Items:          10,
		ListKind:       ListKindList,
		ListCount:      &count,
		ListOrder:      ListOrderNewestFirst,
		ListTab:        "https://example.com/x/videos",
		ListTabs:       []Tab{{URL: "https://example.com/x/videos", Label: "Videos"}},
	}
	if err := store.UpdateSourceMetadata(ctx, id, meta); err != nil {
		t.Fatalf("UpdateSourceMetadata() error = %v", err)
	}

	got, err := store.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.Metadata == nil || got.Metadata.Uploader != "Some Channel" || *got.Metadata.ListCount != 10 {
		t.Errorf("GetSource().Metadata = %+v", got.Metadata)
	}
}

func TestMarkRefreshedAndScheduled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.CreateSource(ctx, Source{URL: "https://example.com/y", FetchLastDays: 1, RefreshFrequencyHours: 1})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}

	now := time.Now().Truncate(time.Second)
	if err := store.MarkScheduled(ctx, id, now); err != nil {
		t.Fatalf("MarkScheduled() error = %v", err)
	}
	if err := store.MarkRefreshed(ctx, id, now); err != nil {
		t.Fatalf("MarkRefreshed() error = %v", err)
	}

	got, err := store.GetSource(ctx, id)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.LastRefreshedAt == nil || !got.LastRefreshedAt.Equal(now) {
		t.Errorf("LastRefreshedAt = %v, want %v", got.LastRefreshedAt, now)
	}
	if got.LastScheduledRefresh == nil || !got.LastScheduledRefresh.Equal(now) {
		t.Errorf("LastScheduledRefresh = %v, want %v", got.LastScheduledRefresh, now)
	}
}

func TestDeleteSource_CascadesMedias(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sourceID, err := store.CreateSource(ctx, Source{URL: "https://example.com/z", FetchLastDays: 1, RefreshFrequencyHours: 1})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	mediaID, err := store.CreateMedia(ctx, Media{SourceID: sourceID, URL: "https://example.com/z/watch?v=abc"})
	if err != nil {
		t.Fatalf("CreateMedia() error = %v", err)
	}

	if err := store.DeleteSource(ctx, sourceID); err != nil {
		t.Fatalf("DeleteSource() error = %v", err)
	}

	if _, err := store.GetMedia(ctx, mediaID); err != ErrNotFound {
		t.Errorf("GetMedia() after cascade delete = %v, want ErrNotFound", err)
	}
}

func TestFindMediaBySourceAndURL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sourceID, err := store.CreateSource(ctx, Source{URL: "https://example.com/a", FetchLastDays: 1, RefreshFrequencyHours: 1})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	if _, err := store.CreateMedia(ctx, Media{SourceID: sourceID, URL: "https://example.com/watch?v=xyz&extra=1"}); err != nil {
		t.Fatalf("CreateMedia() error = %v", err)
	}

	found, err := store.FindMediaBySourceAndURL(ctx, sourceID, "watch?v=xyz")
	if err != nil {
		t.Fatalf("FindMediaBySourceAndURL() error = %v", err)
	}
	if found == nil {
		t.Fatal("expected a match")
	}

	if _, err := store.FindMediaBySourceAndURL(ctx, sourceID, "watch?v=missing"); err != ErrNotFound {
		t.Errorf("FindMediaBySourceAndURL() error = %v, want ErrNotFound", err)
	}
}

func TestSetMediaPath_ClearsWithNil(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sourceID, err := store.CreateSource(ctx, Source{URL: "https://example.com/b", FetchLastDays: 1, RefreshFrequencyHours: 1})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	mediaID, err := store.CreateMedia(ctx, Media{SourceID: sourceID, URL: "https://example.com/watch?v=111"})
	if err != nil {
		t.Fatalf("CreateMedia() error = %v", err)
	}

	path := "uploader/video.mkv"
	if err := store.SetMediaPath(ctx, mediaID, &path); err != nil {
		t.Fatalf("SetMediaPath() error = %v", err)
	}
	got, err := store.GetMedia(ctx, mediaID)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.MediaPath == nil || *got.MediaPath != path {
		t.Errorf("MediaPath = %v, want %v", got.MediaPath, path)
	}

	if err := store.SetMediaPath(ctx, mediaID, nil); err != nil {
		t.Fatalf("SetMediaPath(nil) error = %v", err)
	}
	got, err = store.GetMedia(ctx, mediaID)
	if err != nil {
		t.Fatalf("GetMedia() error = %v", err)
	}
	if got.MediaPath != nil {
		t.Errorf("MediaPath = %v, want nil after clear", got.MediaPath)
	}
}

func TestListMediasBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sourceID, err := store.CreateSource(ctx, Source{URL: "https://example.com/c", FetchLastDays: 1, RefreshFrequencyHours: 1})
	if err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.CreateMedia(ctx, Media{SourceID: sourceID, URL: "https://example.com/watch?v=" + string(rune('a'+i))}); err != nil {
			t.Fatalf("CreateMedia() error = %v", err)
		}
	}

	medias, err := store.ListMediasBySource(ctx, sourceID)
	if err != nil {
		t.Fatalf("ListMediasBySource() error = %v", err)
	}
	if len(medias) != 3 {
		t.Errorf("ListMediasBySource() len = %d, want 3", len(medias))
	}
}
