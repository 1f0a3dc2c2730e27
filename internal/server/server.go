// Package server exposes the admin HTTP surface: health, prometheus
// metrics, and the engine counter snapshot. Monitoring pulls from here; the
// engine never pushes health anywhere.
package server

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bidwire/postauction/internal/observability"
	"github.com/bidwire/postauction/internal/telemetry"
)

const (
	healthPath   = "/healthz"
	metricsPath  = "/metrics"
	countersPath = "/counters"

	readHeaderTimeout = 5 * time.Second
)

// HealthSource reports engine liveness for the health endpoint.
type HealthSource interface {
	LastSweep() time.Time
}

// Config wires the admin server.
type Config struct {
	Addr string
	// StaleAfter marks the engine unhealthy when the sweeper has not run
	// within this window.
	StaleAfter time.Duration
}

// Server is the admin HTTP listener.
type Server struct {
	cfg      Config
	log      observability.Logger
	engine   HealthSource
	metrics  *telemetry.EngineMetrics
	gatherer prometheus.Gatherer
	srv      *http.Server
}

// New constructs the admin server.
func New(cfg Config, engine HealthSource, metrics *telemetry.EngineMetrics, gatherer prometheus.Gatherer, log observability.Logger) *Server {
	if log == nil {
		log = observability.Nop()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:      cfg,
		log:      log,
		engine:   engine,
		metrics:  metrics,
		gatherer: gatherer,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(healthPath, s.handleHealth)
	mux.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})) //nolint:exhaustruct
	mux.HandleFunc(countersPath, s.handleCounters)
	s.srv = &http.Server{ //nolint:exhaustruct
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// ListenAndServe blocks serving the admin surface.
func (s *Server) ListenAndServe() error {
	s.log.Info("admin server listening", observability.F("addr", s.cfg.Addr))
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the listener gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	LastSweep time.Time `json:"lastSweep"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	last := s.engine.LastSweep()
	resp := healthResponse{Status: "ok", LastSweep: last}
	status := http.StatusOK
	if time.Since(last) > s.cfg.StaleAfter {
		resp.Status = "stale"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
