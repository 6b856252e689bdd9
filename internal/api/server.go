// Package api exposes aggregation sessions over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/config"
	"example.com/backstage/services/aggregation/internal/session"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	db         *gorm.DB
	sessions   *session.Manager
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, db *gorm.DB, sessions *session.Manager) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}

	server := &Server{
		cfg:      cfg,
		router:   gin.New(),
		db:       db,
		sessions: sessions,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// Handler returns the HTTP handler serving the API
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware adds middleware to the router
func (s *Server) setupMiddleware() {
	s.router.Use(RequestIDMiddleware())
	s.router.Use(CORSMiddleware(s.cfg.CorsOrigins))
	s.router.Use(gin.Recovery())
	s.router.Use(LoggingMiddleware())
	s.router.Use(MetricsMiddleware())
}

// setupRoutes defines the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", s.metricsHandler)

	v1 := s.router.Group("/api/v1")

	sessionRoutes := v1.Group("/sessions")
	{
		sessionRoutes.GET("", s.listSessions)
		sessionRoutes.POST("", s.openSession)
		sessionRoutes.GET("/:id", s.getSession)
		sessionRoutes.DELETE("/:id", s.closeSession)
		sessionRoutes.POST("/:id/frames", s.observeFrame)
		sessionRoutes.POST("/:id/check", s.checkNow)
		sessionRoutes.GET("/:id/snapshot", s.getSnapshot)
		sessionRoutes.GET("/:id/packages", s.listPackages)
	}

	v1.POST("/classify", s.classify)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Address,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	log.Info().Msgf("HTTP server starting on %s", s.cfg.Address)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
