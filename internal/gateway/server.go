// Package gateway is the HTTP surface: chat endpoints with optional SSE
// streaming, permission and model introspection, model switching, and thread
// lifecycle.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/canopybank/llm-gateway/internal/auth"
	"github.com/canopybank/llm-gateway/internal/config"
	"github.com/canopybank/llm-gateway/internal/memory"
	"github.com/canopybank/llm-gateway/internal/orchestrator"
	"github.com/canopybank/llm-gateway/internal/registry"
)

// Server is the gateway HTTP server.
type Server struct {
	cfg       config.ServerConfig
	orch      *orchestrator.Orchestrator
	selector  *ModelSelector
	registry  *registry.Registry
	validator *auth.Validator
	resolver  *auth.Resolver
	store     memory.Store
	logger    *slog.Logger

	httpServer *http.Server
}

// New creates a gateway server.
func New(cfg config.ServerConfig, orch *orchestrator.Orchestrator, selector *ModelSelector, reg *registry.Registry, validator *auth.Validator, resolver *auth.Resolver, store memory.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		orch:      orch,
		selector:  selector,
		registry:  reg,
		validator: validator,
		resolver:  resolver,
		store:     store,
		logger:    logger.With("component", "gateway"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	optionalAuth := s.validator.Middleware(false)
	requiredAuth := s.validator.Middleware(true)

	s.route(mux, "POST /chat", optionalAuth(http.HandlerFunc(s.handleChat)))
	s.route(mux, "POST /auth/chat", requiredAuth(http.HandlerFunc(s.handleChat)))
	s.route(mux, "GET /permissions", requiredAuth(http.HandlerFunc(s.handlePermissions)))
	s.route(mux, "GET /models", http.HandlerFunc(s.handleModels))
	s.route(mux, "GET /models/current", http.HandlerFunc(s.handleCurrentModel))
	s.route(mux, "POST /switch-model", requiredAuth(http.HandlerFunc(s.handleSwitchModel)))
	s.route(mux, "POST /threads/{id}/close", requiredAuth(http.HandlerFunc(s.handleCloseThread)))
	s.route(mux, "GET /health", http.HandlerFunc(s.handleHealth))
	s.route(mux, "GET /healthz", http.HandlerFunc(s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	return withRequestID(mux)
}

func (s *Server) route(mux *http.ServeMux, pattern string, handler http.Handler) {
	mux.Handle(pattern, withObservability(s.logger, pattern, handler))
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	current := s.selector.Current()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": current.Provider,
		"model":    current.FriendlyName,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
