package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zgpcy/cloudspend/internal/account"
	"github.com/zgpcy/cloudspend/internal/config"
	"github.com/zgpcy/cloudspend/internal/factory"
	"github.com/zgpcy/cloudspend/internal/logger"
	"github.com/zgpcy/cloudspend/internal/provider"
	"github.com/zgpcy/cloudspend/internal/store"
)

// HTTP server timeout constants
const (
	DefaultReadTimeout  = 15 * time.Second // Maximum duration for reading the entire request
	DefaultWriteTimeout = 15 * time.Second // Maximum duration before timing out writes of the response
	DefaultIdleTimeout  = 60 * time.Second // Maximum amount of time to wait for the next request
	readyTimeout        = 2 * time.Second
)

// Deps are the collaborators the handlers read from
type Deps struct {
	Store    store.Store
	Accounts *account.Service
	Factory  *factory.Factory

	// Gatherer backs /metrics; the default registry when nil
	Gatherer prometheus.Gatherer
}

// Server represents the HTTP server
type Server struct {
	server *http.Server
	deps   Deps
	logger *logger.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:      mux,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		deps:   deps,
		logger: log,
	}

	metrics := promhttp.Handler()
	if deps.Gatherer != nil {
		metrics = promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})
	}

	// Register handlers
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", metrics)
	mux.HandleFunc("GET /providers", s.handleProviders)
	mux.HandleFunc("GET /accounts", s.handleAccounts)
	mux.HandleFunc("GET /accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /accounts/{id}/billing", s.handleAccountBilling)
	mux.HandleFunc("GET /accounts/{id}/metrics", s.handleAccountMetrics)

	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errBadID):
		status = http.StatusBadRequest
	default:
		s.logger.Error("Request failed", "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// handleHealth handles health check requests (always returns 200 for liveness)
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleReady returns 200 only when the store answers
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.deps.Store.Ping(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type providersResponse struct {
	Providers    []provider.Descriptor `json:"providers"`
	PublicFields []provider.ParamSpec  `json:"public_fields"`
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, providersResponse{
		Providers:    s.deps.Factory.Providers(),
		PublicFields: s.deps.Factory.PubDataModel(),
	})
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	all, err := s.deps.Accounts.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]account.Public, 0, len(all))
	for _, a := range all {
		out = append(out, s.deps.Accounts.Public(a))
	}
	s.writeJSON(w, http.StatusOK, out)
}

var errBadID = errors.New("account id must be a positive integer")

func accountID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadID
	}
	return id, nil
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.deps.Accounts.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Accounts.Public(a))
}

func (s *Server) handleAccountBilling(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.deps.Accounts.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	billings, err := s.deps.Store.Billing().ListByAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if billings == nil {
		billings = []store.Billing{}
	}
	s.writeJSON(w, http.StatusOK, billings)
}

func (s *Server) handleAccountMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := accountID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.deps.Accounts.Get(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	metrics, err := s.deps.Store.Metrics().ListByAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if metrics == nil {
		metrics = []store.Metric{}
	}
	s.writeJSON(w, http.StatusOK, metrics)
}
