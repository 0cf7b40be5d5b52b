package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"taskapi/internal/analytics"
	"taskapi/internal/apperr"
	"taskapi/internal/auth"
	"taskapi/internal/tasks"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Services are the components the HTTP layer dispatches to.
type Services struct {
	Auth      *auth.Service
	Tasks     *tasks.Service
	Analytics *analytics.Aggregator
	Health    Pinger
}

// Options tune the HTTP layer.
type Options struct {
	// CORSOrigins lists allowed origins; "*" allows any. Empty disables CORS headers.
	CORSOrigins []string
	// Now is the clock used for analytics; defaults to time.Now.
	Now func() time.Time
}

// Server provides HTTP handlers for the task API.
type Server struct {
	engine   *gin.Engine
	svc      Services
	logger   *slog.Logger
	validate *validator.Validate
	opts     Options
}

// New constructs the HTTP server with routes and middleware configured.
func New(svc Services, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		engine:   router,
		svc:      svc,
		logger:   logger,
		validate: newValidator(),
		opts:     opts,
	}
	router.Use(srv.requestLogger())
	if len(opts.CORSOrigins) > 0 {
		router.Use(srv.cors())
	}

	srv.registerRoutes()
	return srv
}

// Engine exposes the underlying Gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// registerRoutes wires all API handlers together.
func (s *Server) registerRoutes() {
	api := s.engine.Group("/api")
	{
		api.GET("/healthz", s.handleHealth)

		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", s.handleRegister)
			authGroup.POST("/login", s.handleLogin)
			authGroup.GET("/me", s.requireAuth(), s.handleMe)
			authGroup.GET("/admin-check", s.requireAuth(), s.adminOnly(), s.handleAdminCheck)
		}

		taskGroup := api.Group("/tasks", s.requireAuth())
		{
			taskGroup.GET("", s.handleListTasks)
			taskGroup.POST("", s.handleCreateTask)
			taskGroup.GET("/analytics", s.handleAnalytics)
			taskGroup.GET("/:id", s.handleGetTask)
			taskGroup.PUT("/:id", s.handleUpdateTask)
			taskGroup.DELETE("/:id", s.handleDeleteTask)
		}
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "endpoint not found"})
	})
}

// handleHealth provides a basic readiness endpoint.
func (s *Server) handleHealth(c *gin.Context) {
	if s.svc.Health != nil {
		if err := s.svc.Health.Ping(c.Request.Context()); err != nil {
			s.logger.Error("health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Unauthorized:
		return http.StatusUnauthorized
	case apperr.Forbidden:
		return http.StatusForbidden
	case apperr.Conflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// respondError logs the error and aborts with a JSON payload whose status
// follows the error kind. Unclassified errors are reported as bad requests.
func (s *Server) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	s.logger.Warn("request failed",
		slog.String("path", c.FullPath()),
		slog.Int("status", status),
		slog.String("kind", kind.String()),
		slog.String("error", err.Error()),
	)

	body := gin.H{"message": err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		body["message"] = appErr.Message
		if len(appErr.Fields) > 0 {
			body["errors"] = appErr.Fields
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// respondSuccess writes payload as JSON, or only the status when it is nil.
func respondSuccess(c *gin.Context, status int, payload any) {
	if payload == nil {
		c.Status(status)
		return
	}
	c.JSON(status, payload)
}
