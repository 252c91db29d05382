// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/market-scanner/internal/logging"
	"github.com/market-scanner/internal/types"
	"github.com/market-scanner/internal/worker"
)

// Service interfaces for dependency injection and testing

// CatalogServiceInterface defines the catalog operations the API exposes
type CatalogServiceInterface interface {
	Snapshot(kind types.CatalogKind) (*types.Snapshot, error)
	Status(ctx context.Context, kind types.CatalogKind) (*types.LoadStatus, error)
	TriggerLoad(kind types.CatalogKind, force bool) error
	Progress() types.Progress
	RecentRuns(ctx context.Context, kind types.CatalogKind, limit int) ([]*types.LoadRun, error)
	ClearCache(ctx context.Context, scope string) error
}

// SchedulerInterface exposes renewal scheduler status
type SchedulerInterface interface {
	GetStatus() *worker.RenewalStatus
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	catalog    CatalogServiceInterface
	scheduler  SchedulerInterface
	log        *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new API server instance. scheduler may be nil when
// auto-renewal is disabled.
func NewServer(
	config *ServerConfig,
	catalog CatalogServiceInterface,
	scheduler SchedulerInterface,
	log *logging.Logger,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		catalog:   catalog,
		scheduler: scheduler,
		log:       log.WithField("component", "api"),
		config:    config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Middleware order matters: logging sees the final status code,
	// recovery catches everything below it
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(RecoveryMiddleware(s.log))
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Snapshot endpoints
	api.HandleFunc("/snapshots/{kind}", s.handleGetSnapshot).Methods("GET")
	api.HandleFunc("/snapshots/{kind}/status", s.handleGetStatus).Methods("GET")

	// Load endpoints
	api.HandleFunc("/loads/{kind}", s.handleTriggerLoad).Methods("POST")
	api.HandleFunc("/loads/progress", s.handleGetProgress).Methods("GET")
	api.HandleFunc("/loads/{kind}/history", s.handleGetLoadHistory).Methods("GET")

	// Renewal scheduler status
	api.HandleFunc("/renewal/status", s.handleGetRenewalStatus).Methods("GET")

	// Cache management
	api.HandleFunc("/cache/{scope}", s.handleClearCache).Methods("DELETE")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "market-scanner",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}
