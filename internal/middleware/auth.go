// Package middleware provides Gin HTTP middleware for authentication, rate limiting,
// request IDs and metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	RequestID → Metrics → (RateLimit → APIKey | Auth) → Handler
//
// Rate limiting runs before the API key check so a flood of bad keys is
// throttled before any bcrypt work is done.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/auth"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/db/models"
)

// Context keys set by the authentication middleware.
const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthMethodKey = "auth_method"
)

// APIKeyHeader carries the event-ingest key.
const APIKeyHeader = "X-API-Key"

// bearerToken extracts the token from an Authorization header, aborting the
// request with 401 when it is missing or malformed.
func bearerToken(c *gin.Context) (string, bool) {
	token, err := auth.ExtractAPIKeyFromHeader(c.GetHeader("Authorization"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return "", false
	}
	return token, true
}

// AuthMiddleware requires a valid admin bearer token and stores the caller's
// identity in the context.
func AuthMiddleware(tokens *auth.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			return
		}

		claims, err := tokens.Validate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)
		c.Set(AuthMethodKey, "jwt")
		c.Next()
	}
}

// APIKeyMiddleware requires the event-ingest key, sent either in X-API-Key
// or as a bearer token, to match keyHash. An empty keyHash means ingest is
// not configured and every request gets 503.
func APIKeyMiddleware(keyHash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if keyHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"error": "Event ingest is not configured",
			})
			return
		}

		key := strings.TrimSpace(c.GetHeader(APIKeyHeader))
		if key == "" {
			var ok bool
			if key, ok = bearerToken(c); !ok {
				return
			}
		}

		if !auth.ValidateAPIKey(key, keyHash) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Set(AuthMethodKey, "api_key")
		c.Next()
	}
}

// ActorFromContext returns the authenticated admin as an audit actor, or
// the system actor when the request carried no user identity.
func ActorFromContext(c *gin.Context) models.Actor {
	var a models.Actor
	if v, ok := c.Get(UserIDKey); ok {
		a.ID, _ = v.(int64)
	}
	if v, ok := c.Get(UsernameKey); ok {
		a.Username, _ = v.(string)
	}
	return a.OrSystem()
}
