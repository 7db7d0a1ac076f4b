// Package api is the local control surface: health, job status, manual
// triggers, and a metrics endpoint. It binds a private interface and does
// no auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/matchday-live/scraper/internal/browser"
	"github.com/matchday-live/scraper/internal/jobs"
	"github.com/matchday-live/scraper/internal/proxy"
	"github.com/matchday-live/scraper/internal/scheduler"
	"github.com/matchday-live/scraper/internal/sources"
)

// JobController is what the API needs from the scheduler.
type JobController interface {
	Jobs() []scheduler.JobStatus
	Trigger(job jobs.JobType) error
}

// ContextPool is the slice of the browser pool the API touches.
type ContextPool interface {
	Stats() browser.PoolStats
	RecycleAll(reason string)
}

// ProxyStatus reports rotator state for the health and sources views.
type ProxyStatus interface {
	Enabled() bool
	Snapshot() []proxy.ProviderStatus
}

// SourceBoard exposes per-source cooldown state.
type SourceBoard interface {
	Stats() []sources.SourceStatus
}

// Deps bundles everything the handlers read from or poke.
type Deps struct {
	Jobs    JobController
	Pool    ContextPool
	Proxies ProxyStatus
	Sources SourceBoard
	Metrics http.Handler
}

// Server serves the control API.
type Server struct {
	mux    *http.ServeMux
	srv    *http.Server
	addr   string
	logger *slog.Logger
	deps   Deps

	started time.Time
	now     func() time.Time
}

// NewServer wires the routes. Call Start to begin serving.
func NewServer(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		addr:    addr,
		logger:  logger.With("component", "api_server"),
		deps:    deps,
		started: time.Now(),
		now:     time.Now,
	}
	s.srv = &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.registerRoutes()
	return s
}

// Start listens and serves on its own goroutine. A bad listen address is an
// init error; failures after startup are logged, not fatal — the scraper
// keeps working without its control surface.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", s.addr, err)
	}
	s.logger.Info("control api listening", "addr", ln.Addr().String())

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "error", err)
		}
	}()
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /jobs", s.handleJobs)
	s.mux.HandleFunc("POST /jobs/{name}/trigger", s.handleTrigger)
	s.mux.HandleFunc("POST /contexts/recycle", s.handleRecycle)
	s.mux.HandleFunc("GET /sources", s.handleSources)
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"ok":             true,
		"uptime_seconds": int64(s.now().Sub(s.started).Seconds()),
		"context_stats":  s.deps.Pool.Stats(),
		"proxy_enabled":  s.deps.Proxies.Enabled(),
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.deps.Jobs.Jobs())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, ok := jobs.Parse(name)
	if !ok {
		s.jsonResponse(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown job %q", name)})
		return
	}
	if err := s.deps.Jobs.Trigger(job); err != nil {
		if errors.Is(err, scheduler.ErrJobRunning) {
			s.jsonResponse(w, http.StatusConflict, map[string]string{"error": "job already running"})
			return
		}
		s.jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.logger.Info("job triggered", "job", job, "remote", r.RemoteAddr)
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": string(job)})
}

func (s *Server) handleRecycle(w http.ResponseWriter, r *http.Request) {
	s.deps.Pool.RecycleAll("api request")
	s.logger.Info("context recycle requested", "remote", r.RemoteAddr)
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "recycling"})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sources": s.deps.Sources.Stats(),
		"proxies": s.deps.Proxies.Snapshot(),
	})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
