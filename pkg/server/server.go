// Package server exposes the query engine over HTTP: a JSON search endpoint,
// a server-sent-events streaming variant, and health probes.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/interrogato/pkg/config"
)

// Server represents the HTTP server
type Server struct {
	config  *config.Config
	engine  QueryEngine
	logger  *slog.Logger
	router  *gin.Engine
	httpSrv *http.Server
}

// New creates a new server instance
func New(cfg *config.Config, engine QueryEngine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config: cfg,
		engine: engine,
		logger: logger,
	}
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	gin.SetMode(s.config.Server.Mode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpSrv = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// Router returns the configured gin router. Setup must have been called.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	searchHandler := NewSearchHandler(s.engine, s.logger)

	s.router.GET("/health", healthCheck)
	s.router.GET("/ready", healthCheck)
	s.router.GET("/live", healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/search", searchHandler.Search)
		v1.POST("/search/stream", searchHandler.StreamSearch)
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping server")
	return s.httpSrv.Shutdown(ctx)
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
