package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/codeclash-io/codeclash/pkg/ratelimit"
)

// Context keys set by middleware.
const (
	contextKeyUserID    = "userID"
	contextKeyRequestID = "requestID"
)

// requestIDMiddleware stamps each request with a correlation id.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(contextKeyRequestID, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// corsMiddleware allows the configured origins.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// authMiddleware validates the bearer token and stores the user id.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		userID, err := s.auth.VerifyToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorResponse{Error: "invalid or missing token"})
			return
		}
		c.Set(contextKeyUserID, userID)
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// rateLimitMiddleware applies a fixed-window rule keyed by user (or
// client IP before authentication).
func (s *Server) rateLimitMiddleware(endpoint string, rule ratelimit.Rule) gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := c.GetString(contextKeyUserID)
		if identifier == "" {
			identifier = c.ClientIP()
		}

		decision := s.limiter.Check(c.Request.Context(), identifier, endpoint, rule)
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds()) + 1
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				errorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// currentUserID reads the authenticated user id set by authMiddleware.
func currentUserID(c *gin.Context) string {
	return c.GetString(contextKeyUserID)
}
