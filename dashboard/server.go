// Package dashboard exposes the aggregator's operational HTTP surface.
//
// It serves:
//   - GET /metrics      Prometheus exposition of the run counters
//   - GET /healthz      liveness probe with uptime
//   - GET /api/sources  per-source fetch status snapshot (JSON)
//   - GET /api/config   effective aggregation settings (JSON)
//
// CORS is wide-open so a locally served frontend can reach the Go backend
// without a proxy.
package dashboard

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dkoval/jobsift/config"
	"github.com/dkoval/jobsift/metrics"
	"github.com/dkoval/jobsift/orchestrator"
)

// StatusSource yields the per-source snapshot served at /api/sources.  The
// orchestrator implements it.
type StatusSource interface {
	Statuses() []orchestrator.SourceStatus
}

// ConfigPayload is the read-only settings subset served at /api/config.
type ConfigPayload struct {
	Sources              []string `json:"sources"`
	MaxConcurrentSources int      `json:"max_concurrent_sources"`
	MaxRetries           int      `json:"max_retries"`
	MaxJobAgeDays        int      `json:"max_job_age_days"`
	MaxBrowserContexts   int      `json:"max_browser_contexts"`
}

// Server provides the dashboard endpoints.
type Server struct {
	metrics  *metrics.Metrics
	statuses StatusSource
	cfg      *config.Config
	log      zerolog.Logger
	mux      *http.ServeMux
	started  time.Time
}

// New creates a dashboard Server.  Call ListenAndServe to start accepting
// connections, or mount Handler on an existing server.
func New(m *metrics.Metrics, statuses StatusSource, cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{
		metrics:  m,
		statuses: statuses,
		cfg:      cfg,
		log:      log.With().Str("component", "dashboard").Logger(),
		mux:      http.NewServeMux(),
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routed handler, CORS included.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on addr (e.g. ":8080") and blocks.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info().Str("addr", addr).Msg("dashboard listening")
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/healthz", s.withCORS(s.handleHealthz))
	s.mux.HandleFunc("/api/sources", s.withCORS(s.handleSources))
	s.mux.HandleFunc("/api/config", s.withCORS(s.handleConfig))
}

func (s *Server) withCORS(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	statuses := s.statuses.Statuses()
	if statuses == nil {
		statuses = []orchestrator.SourceStatus{}
	}
	s.writeJSON(w, statuses)
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.cfg.Feeds))
	for i := range s.cfg.Feeds {
		names = append(names, s.cfg.Feeds[i].Name)
	}
	s.writeJSON(w, ConfigPayload{
		Sources:              names,
		MaxConcurrentSources: s.cfg.MaxConcurrentSources,
		MaxRetries:           s.cfg.MaxRetries,
		MaxJobAgeDays:        s.cfg.MaxJobAgeDays,
		MaxBrowserContexts:   s.cfg.MaxBrowserContexts,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}
