// Package api wires together all HTTP routes for the keygate backend.
//
// Route grouping philosophy:
//   - /api/v1/license/validate and the /api/v1/proxy/* endpoints are reached
//     with a raw license key, because validation is how the extension obtains
//     a session token in the first place and the proxy charges against the
//     key directly. Both are rate limited by IP.
//   - /api/v1/community/* requires a session token; ownership decisions use
//     the device id from the verified token claims.
//   - /api/v1/admin/* requires the operator admin token and is disabled
//     entirely when no token hash is configured.
package api

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/keygate/keygate/internal/activity"
	adminapi "github.com/keygate/keygate/internal/api/admin"
	communityapi "github.com/keygate/keygate/internal/api/community"
	licenseapi "github.com/keygate/keygate/internal/api/license"
	proxyapi "github.com/keygate/keygate/internal/api/proxy"
	"github.com/keygate/keygate/internal/config"
	"github.com/keygate/keygate/internal/db/repositories"
	"github.com/keygate/keygate/internal/license"
	"github.com/keygate/keygate/internal/middleware"
	"github.com/keygate/keygate/internal/provider"
)

// Version is the service version reported by /version. Overridden at build
// time via -ldflags "-X github.com/keygate/keygate/internal/api.Version=...".
var Version = "0.1.0"

// BackgroundServices holds references to background resources that must be
// stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	recorder     *activity.Recorder
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines and flushes the activity queue. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.recorder != nil {
		bg.recorder.Close()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	router.HandleMethodNotAllowed = true

	// Initialize repositories
	licenseRepo := repositories.NewLicenseRepository(db)

	// Wrap *sql.DB with sqlx for the struct-scanned repositories
	sqlxDB := sqlx.NewDb(db, "postgres")
	sharedConfigRepo := repositories.NewSharedConfigRepository(sqlxDB)
	activityRepo := repositories.NewActivityRepository(sqlxDB)

	// Core services
	ledger := license.NewLedger(licenseRepo, cfg.License.Maintenance)
	meter := license.NewMeter(licenseRepo)
	recorder := activity.NewRecorder(activityRepo, cfg.Activity.QueueSize)
	providerClient := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)

	// Handlers
	validateHandler := licenseapi.NewHandler(ledger, &cfg.License)
	proxyHandler := proxyapi.NewHandler(meter, providerClient, recorder)
	communityHandler := communityapi.NewHandler(sharedConfigRepo, &cfg.Community)
	adminHandlers := adminapi.NewLicenseHandlers(licenseRepo, activityRepo)

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Rate limiters. The general limiter takes the operator-configured limits;
	// validate and upload keep their stricter per-endpoint presets. With rate
	// limiting disabled every group gets a pass-through instead.
	var limiters []*middleware.RateLimiter
	newLimit := func(limitCfg middleware.RateLimitConfig) gin.HandlerFunc {
		if !cfg.Security.RateLimiting.Enabled {
			return func(c *gin.Context) { c.Next() }
		}
		rl := middleware.NewRateLimiter(limitCfg)
		limiters = append(limiters, rl)
		return middleware.RateLimitMiddleware(rl)
	}
	validateLimit := newLimit(middleware.ValidateRateLimitConfig())
	generalLimit := newLimit(middleware.GeneralRateLimitConfig(
		cfg.Security.RateLimiting.RequestsPerMinute, cfg.Security.RateLimiting.Burst))
	uploadLimit := newLimit(middleware.UploadRateLimitConfig())

	apiV1 := router.Group("/api/v1")
	{
		// License validation (raw key, strict rate limit)
		licenseGroup := apiV1.Group("/license")
		licenseGroup.Use(validateLimit)
		{
			licenseGroup.GET("/validate", validateHandler.Validate)
		}

		// Metered proxy endpoints (raw key, general rate limit)
		proxyGroup := apiV1.Group("/proxy")
		proxyGroup.Use(generalLimit)
		{
			proxyGroup.GET("/user", proxyHandler.GetUser)
			proxyGroup.GET("/tweets", proxyHandler.GetUserTweets)
		}

		// Community config sharing (session token required)
		communityGroup := apiV1.Group("/community")
		communityGroup.Use(middleware.SessionAuthMiddleware())
		communityGroup.Use(generalLimit)
		{
			communityGroup.POST("/configs",
				uploadLimit, // Stricter rate limit for uploads
				communityHandler.Post)
			communityGroup.GET("/configs", communityHandler.Get)
			communityGroup.PATCH("/configs", communityHandler.SetVisibility)
			communityGroup.DELETE("/configs", communityHandler.Delete)
		}

		// Admin endpoints (operator token required; disabled without a hash)
		adminGroup := apiV1.Group("/admin")
		adminGroup.Use(generalLimit)
		adminGroup.Use(middleware.AdminTokenMiddleware(&cfg.Admin))
		{
			adminGroup.POST("/licenses", adminHandlers.Provision)
			adminGroup.GET("/licenses/:key", adminHandlers.Get)
			adminGroup.POST("/licenses/:key/revoke", adminHandlers.Revoke)
			adminGroup.POST("/licenses/:key/unrevoke", adminHandlers.Unrevoke)
			adminGroup.POST("/licenses/:key/credits", adminHandlers.UpdateCredits)
			adminGroup.GET("/licenses/:key/activity", adminHandlers.ListActivity)
		}
	}

	bg := &BackgroundServices{
		recorder:     recorder,
		rateLimiters: limiters,
	}

	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.Ping(); err != nil {
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
// @Description  Returns whether the service is ready to accept traffic.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. The service is
// stateless apart from the database, so readiness and liveness differ only in
// their response shape.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current service and API version.
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

// LoggerMiddleware provides structured request logging via the global slog
// handler configured in telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		requestID, _ := c.Get(middleware.RequestIDKey)

		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS. Browser extensions send Origin values like
// chrome-extension://<install-id>, where the install id differs per user, so
// extension origins are matched by scheme rather than enumerated. Disallowed
// origins get an explicit 403 instead of a silently header-less response.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Non-browser callers (curl, server-to-server) send no Origin and are
		// not subject to CORS.
		if origin == "" {
			c.Next()
			return
		}

		if !originAllowed(&cfg.Security.CORS, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Origin not allowed",
			})
			return
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Max-Age", "3600")
		c.Header("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// originAllowed checks an Origin value against the allow-list and the
// extension-scheme rule.
func originAllowed(cors *config.CORSConfig, origin string) bool {
	if cors.AllowExtensionOrigins {
		if strings.HasPrefix(origin, "chrome-extension://") ||
			strings.HasPrefix(origin, "moz-extension://") ||
			strings.HasPrefix(origin, "safari-web-extension://") {
			return true
		}
	}

	for _, allowed := range cors.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
