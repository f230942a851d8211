package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"rentwatch/models"
	"rentwatch/scheduler"
	"rentwatch/scraper"
	"rentwatch/services"
	"rentwatch/storage"
)

// Server exposes crawl control and source inspection over HTTP.
type Server struct {
	registry     *services.SourceRegistry
	orchestrator *scraper.Orchestrator
	queue        *scheduler.Queue
	sched        *scheduler.Scheduler
	jobs         *storage.JobStore
	srv          *http.Server
}

func NewServer(
	addr string,
	registry *services.SourceRegistry,
	orchestrator *scraper.Orchestrator,
	queue *scheduler.Queue,
	sched *scheduler.Scheduler,
	jobs *storage.JobStore,
) *Server {
	s := &Server{
		registry:     registry,
		orchestrator: orchestrator,
		queue:        queue,
		sched:        sched,
		jobs:         jobs,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/crawl", s.handleCrawlAll).Methods("POST")
	r.HandleFunc("/api/crawl/{source}", s.handleCrawl).Methods("POST")
	r.HandleFunc("/api/jobs", s.handleListJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", s.handleGetJob).Methods("GET")
	r.HandleFunc("/api/sources", s.handleListSources).Methods("GET")
	r.HandleFunc("/api/sources/health", s.handleSourcesHealth).Methods("GET")
	r.HandleFunc("/api/sources/{source}/history", s.handleSourceHistory).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealthz).Methods("GET")

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // synchronous crawls can run long
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func (s *Server) Start() {
	go func() {
		log.Printf("HTTP API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("HTTP server error: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type crawlRequest struct {
	MaxPages    int  `json:"max_pages"`
	MaxListings int  `json:"max_listings"`
	DryRun      bool `json:"dry_run"`
	Async       bool `json:"async"`
	Priority    int  `json:"priority"`
}

// handleCrawl runs or schedules a crawl for one source. Synchronous by
// default; async=true enqueues and returns the job ID.
func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["source"]

	var req crawlRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	opts := models.CrawlOptions{
		MaxPages:    req.MaxPages,
		MaxListings: req.MaxListings,
		DryRun:      req.DryRun,
	}

	if req.Async {
		cfg, err := s.registry.Get(r.Context(), sourceID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if cfg == nil {
			writeError(w, http.StatusNotFound, "unknown source: "+sourceID)
			return
		}
		priority := req.Priority
		if priority == 0 {
			priority = cfg.Priority
		}
		jobID, created, err := s.queue.Schedule(sourceID, priority, opts)
		if err != nil {
			if errors.Is(err, scheduler.ErrQueueFull) {
				writeError(w, http.StatusServiceUnavailable, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		status := "scheduled"
		if !created {
			status = "already_scheduled"
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": jobID,
			"status": status,
		})
		return
	}

	result, err := s.orchestrator.RunCrawl(r.Context(), sourceID, opts)
	if err != nil {
		var notFound *scraper.SourceNotFoundError
		if errors.As(err, &notFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleCrawlAll schedules crawls for every enabled source.
func (s *Server) handleCrawlAll(w http.ResponseWriter, r *http.Request) {
	jobIDs, err := s.sched.ScheduleAllCrawls(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"scheduled": len(jobIDs),
		"job_ids":   jobIDs,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := s.jobs.GetJob(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "unknown job: "+id)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	jobs, err := s.jobs.ListRecentJobs(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.registry.ListSources(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sources)
}

type sourceHealth struct {
	SourceID string                     `json:"source_id"`
	Status   models.HealthStatus        `json:"status"`
	Latest   *models.SourceHealthMetric `json:"latest,omitempty"`
}

func (s *Server) handleSourcesHealth(w http.ResponseWriter, r *http.Request) {
	sources, err := s.registry.ListSources(r.Context(), false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]sourceHealth, 0, len(sources))
	for _, src := range sources {
		status, err := s.registry.HealthStatus(r.Context(), src.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		latest, err := s.registry.LatestMetric(r.Context(), src.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, sourceHealth{SourceID: src.ID, Status: status, Latest: latest})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSourceHistory(w http.ResponseWriter, r *http.Request) {
	sourceID := mux.Vars(r)["source"]
	cfg, err := s.registry.Get(r.Context(), sourceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cfg == nil {
		writeError(w, http.StatusNotFound, "unknown source: "+sourceID)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	metrics, err := s.registry.MetricHistory(r.Context(), sourceID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
