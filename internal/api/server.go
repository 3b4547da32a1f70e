// Package api exposes the application workflow over HTTP.
package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"consulting-crm/internal/common/logger"
	"consulting-crm/internal/common/validation"
	"consulting-crm/internal/models"
	"consulting-crm/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Inbox lists the notifications stored for a recipient, newest first.
type Inbox interface {
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]models.Notification, error)
}

type Options struct {
	JWTSecret string
	Issuer    string
	Version   string
	Recorder  RequestRecorder
	Checks    map[string]HealthCheck
	// Inbox enables GET /api/notifications when set.
	Inbox Inbox
}

type Server struct {
	service   *workflow.Service
	validator *validation.Validator
	logger    logger.Logger
	opts      Options
}

func NewServer(service *workflow.Service, validator *validation.Validator, log logger.Logger, opts Options) *Server {
	return &Server{
		service:   service,
		validator: validator,
		logger:    log.WithFields(map[string]interface{}{"component": "api"}),
		opts:      opts,
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestMetrics(s.opts.Recorder), RequestLogger(s.logger))

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("/api")
	protected.Use(AuthMiddleware(s.opts.JWTSecret, s.opts.Issuer, s.service, s.logger))
	{
		applications := protected.Group("/applications")
		{
			applications.GET("", s.listApplications)
			applications.GET("/:id", s.getApplication)
			applications.POST("/:id/submit", s.submitApplication)
			applications.POST("/:id/approve", s.approveApplication)
			applications.POST("/:id/reject", s.rejectApplication)
			applications.POST("/:id/status", s.updateStatus)
		}

		protected.POST("/bookings/:bookingId/applications", s.createApplication)

		if s.opts.Inbox != nil {
			protected.GET("/notifications", s.listNotifications)
		}
	}

	return router
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"version":   s.opts.Version,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := s.opts.Checks[name](ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			s.logger.Warn("readiness check failed", map[string]interface{}{
				"check": name,
				"error": err,
			})
			continue
		}
		results[name] = "ok"
	}

	c.JSON(status, gin.H{"ready": status == http.StatusOK, "checks": results})
}
