package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/clinical-report-engine/internal/coordinator"
	"github.com/clinical-report-engine/internal/domain"
	"github.com/clinical-report-engine/internal/middleware"
	"github.com/clinical-report-engine/internal/registry"
)

// HealthFunc reports backing-store reachability for the health endpoint
type HealthFunc func(ctx context.Context) error

// Server represents the HTTP server
type Server struct {
	cfg         *domain.Config
	logger      *logrus.Logger
	router      *gin.Engine
	server      *http.Server
	fieldTypes  *registry.Registry
	templates   domain.TemplateStore
	coordinator *coordinator.Coordinator
	health      HealthFunc
}

// NewServer creates a new HTTP server instance
func NewServer(
	cfg *domain.Config,
	logger *logrus.Logger,
	fieldTypes *registry.Registry,
	templates domain.TemplateStore,
	coord *coordinator.Coordinator,
	health HealthFunc,
) *Server {
	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestTimeout(60 * time.Second))

	server := &Server{
		cfg:         cfg,
		logger:      logger,
		router:      router,
		fieldTypes:  fieldTypes,
		templates:   templates,
		coordinator: coord,
		health:      health,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled
func (s *Server) Start(ctx context.Context) error {
	cfg := s.cfg.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.logger.WithField("addr", addr).Info("HTTP server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/field-types", s.handleListFieldTypes)
		v1.POST("/field-types", s.handleRegisterFieldType)

		v1.POST("/templates", s.handleCreateTemplate)
		v1.GET("/templates", s.handleListTemplates)
		v1.GET("/templates/:id", s.handleGetTemplate)
		v1.DELETE("/templates/:id", s.handleDeleteTemplate)
		v1.POST("/templates/:id/versions", s.handleCreateDraftVersion)
		v1.GET("/templates/:id/versions", s.handleListVersions)
		v1.GET("/templates/:id/active", s.handleGetActiveVersion)

		v1.GET("/versions/:id", s.handleGetVersion)
		v1.POST("/versions/:id/submit", s.handleSubmitVersion)
		v1.POST("/versions/:id/approve", s.handleApproveVersion)
		v1.POST("/versions/:id/reject", s.handleRejectVersion)
		v1.POST("/versions/:id/activate", s.handleActivateVersion)

		v1.POST("/reports", s.handleOpenReport)
		v1.GET("/reports/:id", s.handleGetReport)
		v1.PATCH("/reports/:id/answers", s.handleUpdateAnswers)
		v1.POST("/reports/:id/content", s.handleGenerateContent)
		v1.POST("/reports/:id/complete", s.handleCompleteReport)
		v1.POST("/reports/:id/reopen", s.handleReopenReport)
		v1.POST("/reports/:id/revert", s.handleRevertField)
		v1.GET("/reports/:id/history", s.handleFieldHistory)

		v1.GET("/patients/:patientId/reports", s.handleListPatientReports)
		v1.DELETE("/patients/:patientId/content", s.handleInvalidateContent)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	if s.health != nil {
		if err := s.health(c.Request.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			s.logger.WithError(err).Warn("Health check failed")
		}
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
