package api

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/orders"
	log "github.com/sirupsen/logrus"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	identityKey     = "identity"
	tokenKey        = "token"
)

// Authenticator resolves a bearer token to the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Identity, error)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(logger log.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		entry := logger.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"duration":   time.Since(start).String(),
		})

		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("request")
		case status >= 400:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// requireAuth rejects requests without a live session token.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		id, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Set(tokenKey, token)
		c.Next()
	}
}

// optionalAuth attaches an identity when a valid token is present and
// lets the request through either way.
func (s *Server) optionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if id, err := s.auth.Authenticate(c.Request.Context(), token); err == nil {
				c.Set(identityKey, id)
			}
		}
		c.Next()
	}
}

func (s *Server) requireCapability(capability auth.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !identity(c).Can(capability) {
			s.logger.WithFields(log.Fields{
				"request_id": c.GetString(requestIDKey),
				"capability": capability.String(),
			}).Warn("capability denied")
			s.respondError(c, orders.ErrForbidden)
			return
		}
		c.Next()
	}
}

func identity(c *gin.Context) auth.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(auth.Identity); ok {
			return id
		}
	}
	return auth.Identity{}
}
