package http_api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/thousandfans/fanclub/internal/config"
	"github.com/thousandfans/fanclub/internal/metrics"
	"github.com/thousandfans/fanclub/internal/models"
	"github.com/thousandfans/fanclub/pkg/logger"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 10 * time.Second
	// RequestTimeout bounds the work done for one request, polling loops included
	RequestTimeout = 2 * time.Minute
)

// HTTPServer is the HTTP server struct that will serve the API
type HTTPServer struct {
	// logger is the logger instance
	logger *logger.Logger
	config *config.Config

	// router is the HTTP router
	router *gin.Engine
	// server is the underlying HTTP server
	server *http.Server

	// fanclub is the main application struct
	fanclub models.FanclubI
	catalog models.CatalogService

	metrics  metrics.MetricsCollector
	gatherer prometheus.Gatherer
	limiter  *rateLimiter
}

// NewHTTPServer creates a new HTTP server instance
func NewHTTPServer(
	fanclub models.FanclubI,
	catalog models.CatalogService,
	collector metrics.MetricsCollector,
	gatherer prometheus.Gatherer,
	config *config.Config,
	logger *logger.Logger,
) *HTTPServer {
	if !config.Development && gin.Mode() == gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	server := &HTTPServer{
		logger:   logger,
		config:   config,
		router:   router,
		fanclub:  fanclub,
		catalog:  catalog,
		metrics:  collector,
		gatherer: gatherer,
		limiter:  newRateLimiter(config.RateLimitRPS, config.RateLimitBurst, rateLimiterCleanup),
	}

	router.Use(server.metricsMiddleware(), corsMiddleware(config.CORSOrigins))

	// Define routes
	server.routes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *HTTPServer) Start() {
	addr := fmt.Sprintf("0.0.0.0:%v", s.config.APIPort)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "address", addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Fatal("HTTP server stopped unexpectedly", "error", err)
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *HTTPServer) Shutdown() error {
	s.limiter.Stop()
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	s.logger.Info("Draining HTTP connections", "timeout", ShutdownTimeout)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}
