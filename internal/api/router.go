// Package api wires together all HTTP routes for the user audit service.
//
// Route grouping:
//   - /health and /ready are unauthenticated health checks.
//   - /api/v1/events is for event producers. It takes the ingest API key and is
//     rate limited per client before the key is checked.
//   - Every other /api/v1 route is for administrators and requires a bearer token.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/api/audit"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/api/ingest"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/api/settings"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/auth"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/events"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/middleware"
	"github.com/user-audit-scheduler/user-audit-scheduler/internal/storage"
)

// Version is reported by /version. cmd/server overrides it at link time.
var Version = "0.1.0"

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the services the handlers call. Redis and Archives may
// be nil.
type Dependencies struct {
	DB       Pinger
	Redis    redis.UniversalClient
	Tokens   *auth.TokenManager
	Limiter  middleware.Limiter
	Logs     audit.LogStore
	Snapshot audit.UserSnapshot
	Settings settings.Manager
	Reports  settings.ReportSender
	Roles    settings.RoleCatalog
	Archives *storage.Archiver
	Events   events.Handler
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB, deps.Redis))
	router.GET("/version", versionHandler())

	auditHandlers := audit.NewHandlers(deps.Logs, deps.Snapshot, cfg.Server.Location())
	settingsHandlers := settings.NewHandlers(deps.Settings, deps.Reports, deps.Roles, deps.Archives)

	var limiter middleware.Limiter
	if cfg.Security.RateLimiting.Enabled {
		limiter = deps.Limiter
	}

	apiV1 := router.Group("/api/v1")
	{
		ingestGroup := apiV1.Group("/events")
		ingestGroup.Use(middleware.RateLimitMiddleware(limiter))
		ingestGroup.Use(middleware.APIKeyMiddleware(cfg.Auth.IngestAPIKeyHash))
		{
			ingestGroup.POST("", ingest.EventHandler(deps.Events))
		}

		adminGroup := apiV1.Group("")
		adminGroup.Use(middleware.AuthMiddleware(deps.Tokens))
		{
			adminGroup.GET("/audit/logs", auditHandlers.ListLogsHandler())
			adminGroup.GET("/audit/logs/export", auditHandlers.ExportLogsHandler())
			adminGroup.GET("/audit/users", auditHandlers.ListUsersHandler())
			adminGroup.GET("/audit/users/export", auditHandlers.ExportUsersHandler())

			adminGroup.GET("/settings", settingsHandlers.GetSettingsHandler())
			adminGroup.PUT("/settings", settingsHandlers.UpdateSettingsHandler())
			adminGroup.GET("/schedule", settingsHandlers.GetScheduleHandler())
			adminGroup.POST("/reports/send", settingsHandlers.SendReportHandler())

			adminGroup.GET("/roles", settingsHandlers.ListRolesHandler())
			adminGroup.PUT("/roles", settingsHandlers.ReplaceRolesHandler())

			adminGroup.GET("/archives", settingsHandlers.ListArchivesHandler())
			adminGroup.GET("/archives/download", settingsHandlers.DownloadArchiveHandler())
		}
	}

	return router
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks the database and, when configured, Redis.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks: map"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks: map, error"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
// Unlike the liveness check (/health), this also checks Redis, which carries
// the job queue and the event channel when it is configured.
func readinessHandler(db Pinger, rdb redis.UniversalClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		checks := gin.H{}

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				checks["redis"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "redis not ready",
				})
				return
			}
			checks["redis"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request through the
// request-scoped logger, so every line carries the request ID.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		middleware.LoggerFromContext(c).LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-API-Key, X-Request-ID")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
