package server

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"taskapi/internal/apperr"
	"taskapi/internal/auth"
)

const identityKey = "identity"

// requireAuth verifies the bearer token and stores the caller's identity.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		token = strings.TrimSpace(token)
		if !found || token == "" {
			s.respondError(c, apperr.New(apperr.Unauthorized, "Not authorized: token missing"))
			return
		}

		id, err := s.svc.Auth.Authenticate(token)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// adminOnly must run after requireAuth.
func (s *Server) adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identityFrom(c).IsAdmin() {
			s.respondError(c, apperr.New(apperr.Forbidden, "Access denied: admins only"))
			return
		}
		c.Next()
	}
}

// identityFrom returns the identity set by requireAuth, or the zero identity.
func identityFrom(c *gin.Context) auth.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return auth.Identity{}
	}
	id, _ := v.(auth.Identity)
	return id
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.logger.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", c.Writer.Status()),
			slog.Int64("latency_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	anyOrigin := slices.Contains(s.opts.CORSOrigins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || slices.Contains(s.opts.CORSOrigins, origin)) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
