package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

const (
	// HeaderAPIKey carries the raw API key on every authenticated request.
	HeaderAPIKey = "X-API-Key"

	contextUserIDKey = "user_id"
	contextKeyIDKey  = "api_key_id"
)

// APIKeyRequired authenticates requests with the X-API-Key header. User
// identity is derived solely from the api_keys table.
func (s *Server) APIKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if rawKey == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		key, err := s.apiKeySvc.Authenticate(c.Request.Context(), rawKey)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextUserIDKey, key.UserID)
		c.Set(contextKeyIDKey, key.KeyID)
		c.Next()
	}
}

// GenerateRateLimit throttles generation requests per user. A missing or
// disabled limiter admits everything.
func (s *Server) GenerateRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.generateLimiter == nil || !s.generateLimiter.Enabled() {
			c.Next()
			return
		}

		userID, ok := userFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		result, err := s.generateLimiter.AllowUser(c.Request.Context(), userID)
		if err != nil {
			// Rate limiting is best effort; an unreachable redis must not
			// take generations down with it.
			s.log.Warn("rate limiter unavailable, admitting request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "generations")
			retryAfter := int(result.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
				Error: errorPayload{
					Type:    "rate_limited",
					Message: "too many generation requests",
				},
			})
			return
		}

		c.Next()
	}
}

func userFromContext(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(snowflake.ID)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}
