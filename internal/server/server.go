// Package server exposes the query and source-admin JSON API consumed
// by external presentation layers.
package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/d-kowalski/signalpipe/internal/database"
	"github.com/d-kowalski/signalpipe/internal/fetchutil"
	"github.com/d-kowalski/signalpipe/internal/ingest"
	"github.com/d-kowalski/signalpipe/internal/model"
	"github.com/d-kowalski/signalpipe/internal/opml"
	"github.com/d-kowalski/signalpipe/internal/safeurl"
	"github.com/d-kowalski/signalpipe/internal/scrape"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// readerSourceSlug owns signals created through the on-demand read
// endpoint. The source stays inactive so the runner never fetches it.
const readerSourceSlug = "reader"

// Server is the HTTP API.
type Server struct {
	db     database.Store
	runner *ingest.Runner
	poller *ingest.Poller
	client *fetchutil.Client
	router chi.Router
}

// New creates a server. poller may be nil for one-shot deployments.
func New(db database.Store, runner *ingest.Runner, poller *ingest.Poller, client *fetchutil.Client) *Server {
	if client == nil {
		client = fetchutil.New()
	}
	s := &Server{db: db, runner: runner, poller: poller, client: client}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Route("/api", func(r chi.Router) {
		r.Get("/signals", s.handleSignals)
		r.Get("/sources", s.handleSources)
		r.Post("/sources", s.handleAddSource)
		r.Delete("/sources/{sourceID}", s.handleDeactivateSource)
		r.Post("/refresh", s.handleRefresh)
		r.Post("/read", s.handleRead)
		r.Post("/import-opml", s.handleImportOPML)
		r.Get("/export-opml", s.handleExportOPML)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/settings", s.handleSaveSettings)
	})

	s.router = r
}

// Start starts the server and poller.
func (s *Server) Start(addr string) error {
	if s.poller != nil {
		s.poller.Start()
	}
	log.Printf("Server starting on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop stops the poller.
func (s *Server) Stop() {
	if s.poller != nil {
		s.poller.Stop()
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// --- API Handlers ---

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	signals, err := s.db.GetSignals(limit, offset)
	if err != nil {
		http.Error(w, "Failed to load signals", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"signals": signals, "count": len(signals)})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetAllSources()
	if err != nil {
		http.Error(w, "Failed to load sources", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"sources": sources})
}

// handleAddSource adds a user feed. The URL is user-supplied, so it is
// SSRF-validated before the source is stored.
func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		FeedURL  string `json:"feed_url"`
		Category string `json:"category"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FeedURL == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if err := safeurl.Validate(req.FeedURL); err != nil {
		http.Error(w, fmt.Sprintf("Rejected url: %v", err), http.StatusBadRequest)
		return
	}
	name := req.Name
	if name == "" {
		name = req.FeedURL
	}
	cfg, _ := json.Marshal(map[string]string{
		"feedUrl": req.FeedURL, "name": name, "category": req.Category,
	})
	src := &model.Source{
		Slug:      "userfeed-" + slugify(req.FeedURL),
		Name:      name,
		Type:      model.TypeUserFeed,
		BaseURL:   req.FeedURL,
		Config:    string(cfg),
		Active:    true,
		UserAdded: true,
	}
	id, created, err := s.db.GetOrCreateSource(src)
	if err != nil {
		http.Error(w, "Failed to save source", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"id": id, "created": created})
}

func (s *Server) handleDeactivateSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sourceID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid source id", http.StatusBadRequest)
		return
	}
	if err := s.db.SetSourceActive(id, false); err != nil {
		http.Error(w, "Failed to deactivate", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	interval := ingest.MinPollIntervalMinutes
	if val, err := s.db.GetSetting(ingest.SettingPollInterval); err == nil {
		if mins, err := strconv.Atoi(val); err == nil && mins >= ingest.MinPollIntervalMinutes {
			interval = mins
		}
	}
	writeJSON(w, map[string]any{"poll_interval_minutes": interval})
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollIntervalMinutes int `json:"poll_interval_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.PollIntervalMinutes < ingest.MinPollIntervalMinutes {
		req.PollIntervalMinutes = ingest.MinPollIntervalMinutes
	}
	if err := s.db.SetSetting(ingest.SettingPollInterval, strconv.Itoa(req.PollIntervalMinutes)); err != nil {
		http.Error(w, "Failed to save settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "poll_interval_minutes": req.PollIntervalMinutes})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runner.RunAll(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("Run error: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"total": stats.Total, "new": stats.New, "updated": stats.Updated,
		"errors": stats.Errors, "enriched": stats.Enriched,
	})
}

// handleRead is the on-demand "read this article" path: extract one
// page and persist it under the reader source so the next enrichment
// pass summarizes it.
func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	strategy := scrape.NewPageStrategy(s.client, req.URL, true)
	signals, err := strategy.Fetch(r.Context())
	if err != nil || len(signals) == 0 {
		http.Error(w, "Could not extract content", http.StatusUnprocessableEntity)
		return
	}

	reader := &model.Source{Slug: readerSourceSlug, Name: "Reader", Type: model.TypePage, Active: false}
	srcID, _, err := s.db.GetOrCreateSource(reader)
	if err != nil {
		http.Error(w, "Failed to save", http.StatusInternalServerError)
		return
	}
	reader.ID = srcID
	sig := ingest.Normalize(*reader, signals[0])
	id, _, err := s.db.UpsertSignal(sig)
	if err != nil {
		http.Error(w, "Failed to save", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"id":      id,
		"title":   signals[0].Title,
		"preview": signals[0].Summary,
		"content": signals[0].Metadata["content"],
	})
}

func (s *Server) handleImportOPML(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("opml")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	entries, err := opml.Parse(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to parse OPML: %v", err), http.StatusBadRequest)
		return
	}

	imported, rejected := 0, 0
	for _, entry := range entries {
		if err := safeurl.Validate(entry.URL); err != nil {
			log.Printf("opml import: rejected %s: %v", entry.URL, err)
			rejected++
			continue
		}
		cfg, _ := json.Marshal(map[string]string{
			"feedUrl": entry.URL, "name": entry.Title, "category": entry.Category,
		})
		src := &model.Source{
			Slug:      "userfeed-" + slugify(entry.URL),
			Name:      entry.Title,
			Type:      model.TypeUserFeed,
			BaseURL:   entry.URL,
			Config:    string(cfg),
			Active:    true,
			UserAdded: true,
		}
		_, created, err := s.db.GetOrCreateSource(src)
		if err != nil {
			log.Printf("opml import: save %s failed: %v", entry.URL, err)
			continue
		}
		if created {
			imported++
		}
	}
	writeJSON(w, map[string]any{"imported": imported, "rejected": rejected, "total": len(entries)})
}

func (s *Server) handleExportOPML(w http.ResponseWriter, r *http.Request) {
	sources, err := s.db.GetAllSources()
	if err != nil {
		http.Error(w, "Failed to load sources", http.StatusInternalServerError)
		return
	}
	var entries []opml.FeedEntry
	for _, src := range sources {
		if src.Type != model.TypeUserFeed {
			continue
		}
		var cfg struct {
			Category string `json:"category"`
		}
		json.Unmarshal([]byte(src.Config), &cfg)
		entries = append(entries, opml.FeedEntry{Title: src.Name, URL: src.BaseURL, Category: cfg.Category})
	}
	data, err := opml.Export("Signalpipe Feeds", entries)
	if err != nil {
		http.Error(w, "Failed to export", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", "attachment; filename=signalpipe-feeds.opml")
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// slugify produces a stable slug from a URL, good enough to dedupe
// user-added feeds.
func slugify(raw string) string {
	s := strings.ToLower(raw)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if len(slug) > 80 {
		slug = slug[:80]
	}
	return slug
}
