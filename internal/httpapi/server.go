// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package httpapi wires the orchestration core's HTTP surface: media
// streaming and redownload, source management, the status/metrics
// endpoints, and the manual VPN restart trigger.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localtube/localtube/internal/catalog"
	"github.com/localtube/localtube/internal/log"
	"github.com/localtube/localtube/internal/registry"
	"github.com/localtube/localtube/internal/scheduler"
	"github.com/localtube/localtube/internal/stream"
	"github.com/localtube/localtube/internal/vpn"
	"github.com/localtube/localtube/internal/worker"
)

// Server aggregates the collaborators the HTTP handlers drive.
type Server struct {
	Catalog    *catalog.Store
	Registry   *registry.Registry
	Streamer   *stream.Streamer
	Downloader *worker.Downloader
	Scheduler  *scheduler.Scheduler
	Supervisor *vpn.Supervisor

	// VPNController is nil when no control address is configured; the
	// manual restart endpoint then answers 409.
	VPNController vpn.Controller

	// EnqueueDownload posts a download job for a media id.
	EnqueueDownload func(mediaID int64)
}

// Router builds the chi router for the core HTTP surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(log.Middleware())

	r.Get("/healthz", s.handleHealth)

	r.Route("/medias", func(r chi.Router) {
		r.Get("/{id}/stream", s.handleStream)
		r.Post("/{id}/redownload", s.handleRedownload)
	})

	r.Route("/sources", func(r chi.Router) {
		r.Get("/", s.handleListSources)
		r.Post("/", s.handleCreateSource)
		r.Delete("/{id}", s.handleDeleteSource)
		r.Post("/{id}/refresh", s.handleRefreshSource)
	})

	r.Get("/status", s.handleStatus)
	r.Post("/status/gluetun/restart", s.handleManualVPNRestart)
	r.Handle("/metrics/", promhttp.Handler())

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func idParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.Streamer.ServeMedia(w, r, id)
}

// handleRedownload clears the media's path, removes its on-disk files,
// enqueues a fresh download, and redirects back to the media list.
func (s *Server) handleRedownload(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "httpapi")

	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := s.Downloader.RedownloadPrep(r.Context(), id); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		logger.Error().Err(err).Int64(log.FieldMediaID, id).Msg("redownload prep")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.EnqueueDownload(id)
	http.Redirect(w, r, "/medias", http.StatusSeeOther)
}

type createSourceRequest struct {
	URL                   string   `json:"url"`
	FetchLastDays         int      `json:"fetch_last_days"`
	RefreshFrequencyHours int      `json:"refresh_frequency_hours"`
	Sponsorblock          []string `json:"sponsorblock,omitempty"`
}

func (s *Server) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "httpapi")

	var req createSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.URL == "" || req.FetchLastDays <= 0 || req.RefreshFrequencyHours <= 0 {
		http.Error(w, "url, fetch_last_days and refresh_frequency_hours are required", http.StatusBadRequest)
		return
	}
	if bad, ok := invalidSponsorblock(req.Sponsorblock); !ok {
		http.Error(w, "unknown sponsorblock category: "+bad, http.StatusBadRequest)
		return
	}

	id, err := s.Catalog.CreateSource(r.Context(), catalog.Source{
		URL:                   req.URL,
		FetchLastDays:         req.FetchLastDays,
		RefreshFrequencyHours: req.RefreshFrequencyHours,
		Sponsorblock:          req.Sponsorblock,
	})
	if err != nil {
		logger.Error().Err(err).Str(log.FieldURL, req.URL).Msg("create source")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	// A new source is refreshed right away rather than waiting a sweep.
	s.Scheduler.ScheduleRefresh(r.Context(), id, true)

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func invalidSponsorblock(categories []string) (string, bool) {
	for _, c := range categories {
		known := false
		for _, k := range catalog.SponsorblockCategories {
			if c == k {
				known = true
				break
			}
		}
		if !known {
			return c, false
		}
	}
	return "", true
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.Catalog.ListSources(r.Context())
	if err != nil {
		log.WithComponentFromContext(r.Context(), "httpapi").Error().Err(err).Msg("list sources")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	out := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		out = append(out, newSourceView(src))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if _, err := s.Catalog.GetSource(r.Context(), id); errors.Is(err, catalog.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err := s.Catalog.DeleteSource(r.Context(), id); err != nil {
		log.WithComponentFromContext(r.Context(), "httpapi").Error().Err(err).
			Int64(log.FieldSourceID, id).Msg("delete source")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRefreshSource forces an immediate refresh enqueue, bypassing the
// periodic sweep's due check.
func (s *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	if _, err := s.Catalog.GetSource(r.Context(), id); errors.Is(err, catalog.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	s.Scheduler.ScheduleRefresh(r.Context(), id, true)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusView(s.Registry))
}

// handleManualVPNRestart drives the same begin/finish protocol as the
// automatic supervisor path, so the two can never run concurrently.
func (s *Server) handleManualVPNRestart(w http.ResponseWriter, r *http.Request) {
	if s.VPNController == nil {
		http.Error(w, "VPN control is not configured", http.StatusConflict)
		return
	}
	if !s.Supervisor.TriggerManualRestart(r.Context(), s.VPNController) {
		http.Error(w, "a VPN restart is already in progress", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type sourceView struct {
	ID                    int64                   `json:"id"`
	URL                   string                  `json:"url"`
	FetchLastDays         int                     `json:"fetch_last_days"`
	RefreshFrequencyHours int                     `json:"refresh_frequency_hours"`
	Sponsorblock          []string                `json:"sponsorblock,omitempty"`
	Metadata              *catalog.SourceMetadata `json:"metadata,omitempty"`
	LastRefreshedAt       *int64                  `json:"last_refreshed_at,omitempty"`
}

func newSourceView(src catalog.Source) sourceView {
	v := sourceView{
		ID:                    src.ID,
		URL:                   src.URL,
		FetchLastDays:         src.FetchLastDays,
		RefreshFrequencyHours: src.RefreshFrequencyHours,
		Sponsorblock:          src.Sponsorblock,
		Metadata:              src.Metadata,
	}
	if src.LastRefreshedAt != nil {
		unix := src.LastRefreshedAt.Unix()
		v.LastRefreshedAt = &unix
	}
	return v
}

type taskView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	State       string `json:"state"`
	Status      string `json:"status,omitempty"`
	FailMessage string `json:"fail_message,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

type metricsView struct {
	Kind                  string   `json:"kind"`
	SuccessCount          int64    `json:"success_count"`
	FailureCount          int64    `json:"failure_count"`
	ConsecutiveFailures   int64    `json:"consecutive_failures"`
	LastSuccessSecondsAgo *float64 `json:"last_success_seconds_ago,omitempty"`
	LastFailureSecondsAgo *float64 `json:"last_failure_seconds_ago,omitempty"`
	RestartCount          int64    `json:"restart_count"`
	LastRestartSecondsAgo *float64 `json:"last_restart_seconds_ago,omitempty"`
	LastRestartOutcome    *string  `json:"last_restart_outcome,omitempty"`
	LastRestartError      *string  `json:"last_restart_error,omitempty"`
	RestartInProgress     bool     `json:"restart_in_progress"`
}

type statusView struct {
	VPNEnabled bool          `json:"vpn_enabled"`
	Tasks      []taskView    `json:"tasks"`
	Metrics    []metricsView `json:"metrics"`
}

func newStatusView(reg *registry.Registry) statusView {
	tasks := reg.TasksSnapshotNow()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	view := statusView{
		VPNEnabled: reg.VPNEnabled(),
		Tasks:      make([]taskView, 0, len(tasks)),
	}
	for _, t := range tasks {
		view.Tasks = append(view.Tasks, taskView{
			ID:          t.ID,
			Kind:        string(t.Kind),
			Title:       t.Title,
			State:       string(t.State),
			Status:      t.Status,
			FailMessage: t.FailMessage,
			CreatedAt:   t.CreatedAt.Unix(),
		})
	}

	snap := reg.MetricsSnapshotNow()
	kinds := make([]registry.Kind, 0, len(snap.ByKind))
	for kind := range snap.ByKind {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		m := snap.ByKind[kind]
		view.Metrics = append(view.Metrics, metricsView{
			Kind:                  string(kind),
			SuccessCount:          m.SuccessCount,
			FailureCount:          m.FailureCount,
			ConsecutiveFailures:   m.ConsecutiveFailures,
			LastSuccessSecondsAgo: m.LastSuccessSecondsAgo,
			LastFailureSecondsAgo: m.LastFailureSecondsAgo,
			RestartCount:          m.RestartCount,
			LastRestartSecondsAgo: m.LastRestartSecondsAgo,
			LastRestartOutcome:    m.LastRestartOutcome,
			LastRestartError:      m.LastRestartError,
			RestartInProgress:     m.RestartInProgress,
		})
	}
	return view
}
