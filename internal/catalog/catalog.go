// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package catalog persists Sources and Medias in sqlite and implements the
// relational data model with foreign-key cascade described for the
// orchestration core.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("catalog: not found")

// ListKind classifies the shape of a probed source.
type ListKind string

const (
	ListKindUnknown ListKind = "unknown"
	ListKindVideo   ListKind = "video"
	ListKindList    ListKind = "list"
)

// ListOrder classifies the chronological order of a probed list.
type ListOrder string

const (
	ListOrderUnknown     ListOrder = "unknown"
	ListOrderNewestFirst ListOrder = "newest_first"
	ListOrderOldestFirst ListOrder = "oldest_first"
)

// SponsorblockCategories enumerates the fixed set of categories accepted in
// a Source's sponsorblock configuration.
var SponsorblockCategories = []string{
	"sponsor", "intro", "outro", "selfpromo", "preview", "filler", "interaction", "music_offtopic",
}

// Tab is a probed channel/list tab URL and its display label.
type Tab struct {
	URL   string `json:"url"`
	Label string `json:"label"`
}

// SourceMetadata is derived by the refresh worker and rewritten on each refresh.
type SourceMetadata struct {
	Uploader       string    `json:"uploader,omitempty"`
	SourceProvider string    `json:"source_provider,omitempty"`
	Items          int       `json:"items"`
	ListKind       ListKind  `json:"list_kind"`
	ListCount      *int      `json:"list_count,omitempty"`
	ListOrder      ListOrder `json:"list_order"`
	ListTab        string    `json:"list_tab,omitempty"`
	ListTabs       []Tab     `json:"list_tabs,omitempty"`
}

// Source is a user-declared content origin.
type Source struct {
	ID                    int64
	URL                   string
	FetchLastDays         int
	RefreshFrequencyHours int
	Sponsorblock          []string
	Metadata              *SourceMetadata
	LastRefreshedAt       *time.Time
	LastScheduledRefresh  *time.Time
}

// MediaMetadata describes one video item as reported by the extractor.
type MediaMetadata struct {
	Title        string  `json:"title"`
	Description  *string `json:"description,omitempty"`
	Duration     float64 `json:"duration"`
	ExtractorKey string  `json:"extractor_key"`
	OriginalURL  string  `json:"original_url"`
	Timestamp    int64   `json:"timestamp"`
}

// Media is one video item belonging to a Source.
type Media struct {
	ID        int64
	SourceID  int64
	URL       string
	Metadata  *MediaMetadata
	MediaPath *string
}

// Store is the sqlite-backed catalog of Sources and Medias.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, already-migrated *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func timePtrFromUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CreateSource inserts a new Source and returns its assigned id.
func (s *Store) CreateSource(ctx context.Context, src Source) (int64, error) {
	metaJSON, err := marshalJSON(src.Metadata)
	if err != nil {
		return 0, fmt.Errorf("catalog: marshal source metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (url, fetch_last_days, refresh_frequency_hours, sponsorblock, metadata_json, last_refreshed_at, last_scheduled_refresh)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		src.URL, src.FetchLastDays, src.RefreshFrequencyHours, strings.Join(src.Sponsorblock, ","),
		metaJSON, unixPtr(src.LastRefreshedAt), unixPtr(src.LastScheduledRefresh))
	if err != nil {
		return 0, fmt.Errorf("catalog: create source: %w", err)
	}
	return res.LastInsertId()
}

func scanSource(row interface {
	Scan(dest ...any) error
}) (*Source, error) {
	var (
		src          Source
		sponsorblock string
		metaJSON     sql.NullString
		lastRefr     sql.NullInt64
		lastSched    sql.NullInt64
	)
	if err := row.Scan(&src.ID, &src.URL, &src.FetchLastDays, &src.RefreshFrequencyHours,
		&sponsorblock, &metaJSON, &lastRefr, &lastSched); err != nil {
		return nil, err
	}
	if sponsorblock != "" {
		src.Sponsorblock = strings.Split(sponsorblock, ",")
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var m SourceMetadata
		if err := json.Unmarshal([]byte(metaJSON.String), &m); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal source metadata: %w", err)
		}
		src.Metadata = &m
	}
	src.LastRefreshedAt = timePtrFromUnix(lastRefr)
	src.LastScheduledRefresh = timePtrFromUnix(lastSched)
	return &src, nil
}

const sourceColumns = `id, url, fetch_last_days, refresh_frequency_hours, sponsorblock, metadata_json, last_refreshed_at, last_scheduled_refresh`

// GetSource loads a Source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

// ListSources returns every Source, ordered by id.
func (s *Store) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list sources: %w", err)
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// DeleteSource deletes a Source; cascades to its Medias via foreign key.
func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	return err
}

// UpdateSourceMetadata persists a freshly-derived SourceMetadata.
func (s *Store) UpdateSourceMetadata(ctx context.Context, id int64, meta *SourceMetadata) error {
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("catalog: marshal source metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE sources SET metadata_json = ? WHERE id = ?`, metaJSON, id)
	return err
}

// MarkRefreshed stamps last_refreshed_at = now. Called by the refresh worker on success.
func (s *Store) MarkRefreshed(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET last_refreshed_at = ? WHERE id = ?`, now.Unix(), id)
	return err
}

// MarkScheduled atomically stamps last_scheduled_refresh = now. Called by the
// refresh scheduler immediately before enqueuing a refresh job, implementing
// the two-clock anti-duplication design.
func (s *Store) MarkScheduled(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sources SET last_scheduled_refresh = ? WHERE id = ?`, now.Unix(), id)
	return err
}

// CreateMedia inserts a new Media row and returns its assigned id.
func (s *Store) CreateMedia(ctx context.Context, m Media) (int64, error) {
	metaJSON, err := marshalJSON(m.Metadata)
	if err != nil {
		return 0, fmt.Errorf("catalog: marshal media metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO medias (source_id, url, metadata_json, media_path) VALUES (?, ?, ?, ?)`,
		m.SourceID, m.URL, metaJSON, m.MediaPath)
	if err != nil {
		return 0, fmt.Errorf("catalog: create media: %w", err)
	}
	return res.LastInsertId()
}

func scanMedia(row interface {
	Scan(dest ...any) error
}) (*Media, error) {
	var (
		m         Media
		metaJSON  sql.NullString
		mediaPath sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SourceID, &m.URL, &metaJSON, &mediaPath); err != nil {
		return nil, err
	}
	if metaJSON.Valid && metaJSON.String != "" {
		var md MediaMetadata
		if err := json.Unmarshal([]byte(metaJSON.String), &md); err != nil {
			return nil, fmt.Errorf("catalog: unmarshal media metadata: %w", err)
		}
		m.Metadata = &md
	}
	if mediaPath.Valid {
		m.MediaPath = &mediaPath.String
	}
	return &m, nil
}

const mediaColumns = `id, source_id, url, metadata_json, media_path`

// GetMedia loads a Media by id.
func (s *Store) GetMedia(ctx context.Context, id int64) (*Media, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM medias WHERE id = ?`, id)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// FindMediaBySourceAndURL looks up an existing media by source_id and a URL
// containment match against originalURL, per the refresh worker's dedup rule.
func (s *Store) FindMediaBySourceAndURL(ctx context.Context, sourceID int64, originalURL string) (*Media, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM medias WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: find media: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		if strings.Contains(m.URL, originalURL) {
			return m, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}

// ListMediasBySource returns every Media belonging to a Source.
func (s *Store) ListMediasBySource(ctx context.Context, sourceID int64) ([]Media, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+mediaColumns+` FROM medias WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list medias: %w", err)
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// UpdateMediaMetadata rewrites a Media's MediaMetadata.
func (s *Store) UpdateMediaMetadata(ctx context.Context, id int64, meta *MediaMetadata) error {
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("catalog: marshal media metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `UPDATE medias SET metadata_json = ? WHERE id = ?`, metaJSON, id)
	return err
}

// SetMediaPath sets or clears (path == nil) the media_path column.
func (s *Store) SetMediaPath(ctx context.Context, id int64, path *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE medias SET media_path = ? WHERE id = ?`, path, id)
	return err
}

// ClearMediaPathByPath clears media_path on every row currently holding
// the given relative path. Used when a file disappears from the media
// root outside localtube's control. Returns the number of rows cleared.
func (s *Store) ClearMediaPathByPath(ctx context.Context, relPath string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE medias SET media_path = NULL WHERE media_path = ?`, relPath)
	if err != nil {
		return 0, fmt.Errorf("catalog: clear media path: %w", err)
	}
	return res.RowsAffected()
}

// DeleteMedia deletes a Media row.
func (s *Store) DeleteMedia(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM medias WHERE id = ?`, id)
	return err
}
