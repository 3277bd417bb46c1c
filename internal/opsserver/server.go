// Package opsserver exposes the operator HTTP surface: prometheus
// metrics, health checks, status, and refresh/stop controls.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/ordermon/internal/engine"
	"github.com/roach88/ordermon/internal/metrics"
	"github.com/roach88/ordermon/internal/model"
	"github.com/roach88/ordermon/internal/monitor"
	"github.com/roach88/ordermon/internal/store"
)

const checkTimeout = time.Second

// Pinger is a dependency health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// EngineStats reports engine counters. Implemented by *engine.Engine.
type EngineStats interface {
	Stats() engine.Stats
}

// Monitor is the monitor surface used by /status and /refresh.
// Implemented by *monitor.Monitor.
type Monitor interface {
	ForceRefresh(ctx context.Context) (monitor.Result, error)
	Last() (model.Snapshot, bool)
}

// OrderReader loads one order. Implemented by *store.Store.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (model.Order, error)
}

// Deps are the components the server reports on. Nil fields disable the
// routes that need them.
type Deps struct {
	Metrics *metrics.Metrics
	Engine  EngineStats
	Monitor Monitor
	Orders  OrderReader

	// Checks are pinged by /healthz, keyed by name.
	Checks map[string]Pinger

	// Stop is called by POST /stop to begin a graceful shutdown.
	Stop func()
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	deps      Deps
	router    *mux.Router
	startTime time.Time
	srv       *http.Server
}

// New creates a Server with all routes registered.
func New(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler()).Methods("GET")
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/refresh", s.handleRefresh).Methods("POST")
	s.router.HandleFunc("/stop", s.handleStop).Methods("POST")
	s.router.HandleFunc("/orders/{order_id:[0-9]+}", s.handleGetOrder).Methods("GET")
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called.
func (s *Server) Serve(l net.Listener) error {
	slog.Info("ops server listening", "addr", l.Addr().String())
	if err := s.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.deps.Checks))
	healthy := true
	for name, p := range s.deps.Checks {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := p.Ping(ctx)
		cancel()
		if err != nil {
			healthy = false
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{
		"status":         status,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"checks":         checks,
	})
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Engine   *engine.Stats   `json:"engine,omitempty"`
	Snapshot *model.Snapshot `json:"snapshot,omitempty"`
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var resp StatusResponse
	if s.deps.Engine != nil {
		stats := s.deps.Engine.Stats()
		resp.Engine = &stats
	}
	if s.deps.Monitor != nil {
		if snap, ok := s.deps.Monitor.Last(); ok {
			resp.Snapshot = &snap
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleRefresh handles POST /refresh
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.deps.Monitor == nil {
		respondError(w, http.StatusNotImplemented, "monitor not running")
		return
	}
	res, err := s.deps.Monitor.ForceRefresh(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"loaded":       res.Loaded,
		"changes":      len(res.Changes),
		"cache_writes": res.CacheWrites,
	})
}

// handleStop handles POST /stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stop == nil {
		respondError(w, http.StatusNotImplemented, "stop not supported")
		return
	}
	slog.Info("stop requested over HTTP", "remote", r.RemoteAddr)
	s.deps.Stop()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// handleGetOrder handles GET /orders/{order_id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if s.deps.Orders == nil {
		respondError(w, http.StatusNotImplemented, "order lookup not available")
		return
	}
	id, err := strconv.ParseInt(mux.Vars(r)["order_id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order_id")
		return
	}

	o, err := s.deps.Orders.GetOrder(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "order not found")
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
	default:
		respondJSON(w, http.StatusOK, o)
	}
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("write response failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, map[string]string{"error": message})
}
