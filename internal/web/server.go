// Package web is the HTTP boundary of ward-monitor: reading ingestion,
// reading and metrics queries, report generation, daemon status and the
// live feed. Every response is JSON.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/metrics"
	"github.com/sweeney/ward-monitor/internal/reading"
	"github.com/sweeney/ward-monitor/internal/report"
	"github.com/sweeney/ward-monitor/internal/status"
)

// Default history limits for GET /iot/history.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 5000
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Ingester accepts one raw reading payload.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (reading.Reading, error)
}

// Readings is the read side of the reading store.
type Readings interface {
	GetLatest(ctx context.Context) (reading.Reading, error)
	GetHistory(ctx context.Context, limit int) ([]reading.Reading, error)
}

// Metrics is the dashboard read path.
type Metrics interface {
	Velocity(ctx context.Context) (int, error)
	CPI(ctx context.Context) (*float64, bool, error)
	SPI(ctx context.Context) (*float64, bool, error)
	Burndown(ctx context.Context) (metrics.Burndown, error)
	AlignedBurndown(ctx context.Context) ([]metrics.AlignedSprint, error)
	Backlog(ctx context.Context) ([]metrics.BacklogItem, error)
	Risks(ctx context.Context) ([]metrics.RiskEntry, error)
	Summary(ctx context.Context) (metrics.Summary, error)
}

// Deps are the components the server exposes. Ingester, Readings and
// Tracker are required; a nil Metrics, Reports or Live makes the matching
// routes answer 503.
type Deps struct {
	Ingester Ingester
	Readings Readings
	Metrics  Metrics
	Reports  report.Generator
	Tracker  *status.Tracker
	Live     http.Handler

	HistoryLimit    int
	MaxHistoryLimit int
}

// Server serves the ward-monitor HTTP API.
type Server struct {
	httpServer *http.Server
	deps       Deps
	logger     *zap.Logger
}

// New creates a Server listening on addr.
func New(addr string, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.MaxHistoryLimit <= 0 {
		deps.MaxHistoryLimit = MaxHistoryLimit
	}
	if deps.HistoryLimit <= 0 || deps.HistoryLimit > deps.MaxHistoryLimit {
		deps.HistoryLimit = min(DefaultHistoryLimit, deps.MaxHistoryLimit)
	}

	s := &Server{deps: deps, logger: logger}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/iot", func(r chi.Router) {
		r.Post("/receive", s.handleReceive)
		r.Get("/latest", s.handleLatest)
		r.Get("/history", s.handleHistory)
	})

	r.Route("/metrics", func(r chi.Router) {
		r.Get("/velocity", s.handleVelocity)
		r.Get("/cpi", s.handleCPI)
		r.Get("/spi", s.handleSPI)
		r.Get("/summary", s.handleSummary)
		r.Get("/burndown", s.handleBurndown)
		r.Get("/burndown/aligned", s.handleAlignedBurndown)
		r.Get("/backlog", s.handleBacklog)
		r.Get("/risks", s.handleRisks)
	})

	r.Post("/reports/{kind}", s.handleReport)
	r.Get("/status.json", s.handleStatus)
	r.Get("/ws", s.handleLive)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	s.deps.Live.ServeHTTP(w, r)
}
