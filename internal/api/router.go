// Package api wires together the HTTP surface of agentplane.
//
// Route grouping:
//   - /v1/auth/* are the public credential endpoints (register, login,
//     refresh, logout). Login sits behind the per-IP rate limiter; refresh
//     and logout authenticate by the refresh token itself.
//   - Everything else under /v1 requires a verified credential — a JWT or an
//     API key on the same Authorization header. Key management routes are
//     additionally scope-gated, admin routes role-gated.
//   - /healthz, /readyz, /version are unauthenticated operational endpoints.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/agentplane/agentplane/internal/api/admin"
	"github.com/agentplane/agentplane/internal/audit"
	"github.com/agentplane/agentplane/internal/auth"
	"github.com/agentplane/agentplane/internal/cache"
	"github.com/agentplane/agentplane/internal/config"
	"github.com/agentplane/agentplane/internal/crypto"
	"github.com/agentplane/agentplane/internal/db/repositories"
	"github.com/agentplane/agentplane/internal/jobs"
	"github.com/agentplane/agentplane/internal/middleware"
	"github.com/agentplane/agentplane/internal/rate"
	"github.com/agentplane/agentplane/internal/safego"
)

// BackgroundServices holds the background goroutines and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) calls
// Shutdown after the HTTP server has drained.
type BackgroundServices struct {
	keyScanner *jobs.ExpiringKeyScanner
	limiter    rate.Limiter
	exporter   audit.Exporter
}

// Shutdown stops all background goroutines. The audit exporter closes last
// so events recorded by the final drained requests still get flushed.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.keyScanner != nil {
		bg.keyScanner.Stop()
	}
	if bg.limiter != nil {
		bg.limiter.Stop()
	}
	if bg.exporter != nil {
		if err := bg.exporter.Close(); err != nil {
			slog.Error("failed to close audit exporter", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router.
func NewRouter(cfg *config.Config, database *sqlx.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Repositories. The refresh token repository uses sqlx struct scanning;
	// the others predate that style and take the embedded *sql.DB.
	userRepo := repositories.NewUserRepository(database.DB)
	apiKeyRepo := repositories.NewAPIKeyRepository(database.DB)
	eventRepo := repositories.NewAuthEventRepository(database.DB)
	refreshRepo := repositories.NewRefreshTokenRepository(database)

	// Rate limiter state: shared via Redis when an address is configured,
	// otherwise in-process. A single instance behaves identically either way.
	rateCfg := rate.Config{
		Window:        cfg.RateLimit.Window,
		MaxAttempts:   cfg.RateLimit.MaxAttempts,
		BlockDuration: cfg.RateLimit.BlockDuration,
		SweepInterval: cfg.RateLimit.SweepInterval,
	}
	var limiter rate.Limiter
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		limiter = rate.NewRedisLimiter(client, rateCfg)
		slog.Info("rate limiter backed by redis", "addr", cfg.Redis.Addr)
	} else {
		limiter = rate.NewMemoryLimiter(rateCfg)
		slog.Info("rate limiter using in-process state")
	}

	// Auth core. Export destinations are validated at config load; a failure
	// here (e.g. the export file cannot be opened) keeps the trail database-
	// only rather than taking the auth plane down.
	exporter, err := audit.NewExporters(cfg.Audit.Export)
	if err != nil {
		slog.Error("audit export disabled", "error", err)
	} else if exporter != nil {
		slog.Info("audit export enabled")
	}

	hasher := crypto.NewHasher(crypto.DefaultHashParams)
	tokens := auth.NewTokenService(cfg.Auth)
	recorder := audit.NewRecorder(eventRepo, exporter)
	statusCache := cache.NewUserStatusCache(userRepo, cfg.Cache.UserStatusTTL)
	verifier := auth.NewAPIKeyAuthenticator(cfg.APIKeyAuthEnabled(), apiKeyRepo, userRepo, hasher, limiter, recorder)
	rotation := auth.NewRotationEngine(tokens, refreshRepo, userRepo, hasher, recorder)

	if !cfg.APIKeyAuthEnabled() {
		slog.Warn("api key authentication disabled; key-shaped credentials will be rejected")
	}

	// Background expiring-key scan.
	keyScanner := jobs.NewExpiringKeyScanner(apiKeyRepo,
		cfg.Jobs.KeyExpiryWarningDays, cfg.Jobs.KeyExpiryCheckIntervalHours)
	safego.Go(func() { keyScanner.Start(context.Background()) })

	// Handlers.
	authHandlers := NewAuthHandlers(cfg, userRepo, rotation, hasher, limiter, recorder)
	userHandlers := admin.NewUserHandlers(userRepo, refreshRepo, statusCache, recorder)
	keyHandlers := admin.NewAPIKeyHandlers(apiKeyRepo, hasher, recorder)
	eventHandlers := admin.NewEventHandlers(eventRepo)

	// Middleware chain. Order matters: recovery outermost, then request ID so
	// every later stage (metrics, logs, errors) can reference it.
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))

	// Operational endpoints.
	router.GET("/healthz", healthHandler())
	router.GET("/readyz", readyHandler(database))
	router.GET("/version", versionHandler())

	// Public credential endpoints.
	authGroup := router.Group("/v1/auth")
	{
		authGroup.POST("/register", authHandlers.RegisterHandler())
		authGroup.POST("/login",
			middleware.LoginRateLimit(limiter, recorder),
			authHandlers.LoginHandler())
		authGroup.POST("/refresh", authHandlers.RefreshHandler())
		authGroup.POST("/logout", authHandlers.LogoutHandler())
	}

	// Everything below requires a verified credential.
	protected := router.Group("/v1")
	protected.Use(middleware.RequireAuth(tokens, statusCache, verifier))
	{
		protected.GET("/me", authHandlers.MeHandler())

		// Self-service key management. Scope gates bind API-key callers;
		// JWT sessions pass them by construction.
		keysGroup := protected.Group("/keys")
		{
			keysGroup.GET("",
				middleware.RequireScope(auth.ScopeKeysRead),
				keyHandlers.ListAPIKeysHandler())
			keysGroup.POST("",
				middleware.RequireScope(auth.ScopeKeysWrite),
				keyHandlers.CreateAPIKeyHandler())
			keysGroup.DELETE("/:id",
				middleware.RequireScope(auth.ScopeKeysWrite),
				keyHandlers.RevokeAPIKeyHandler())
		}

		// Admin surface: the stored role gates it, and an API key must also
		// carry the admin scope — a narrowly scoped key owned by an admin
		// does not inherit the whole admin surface.
		adminGroup := protected.Group("/admin")
		adminGroup.Use(middleware.RequireAdmin(), middleware.RequireScope(auth.ScopeAdmin))
		{
			adminGroup.GET("/users", userHandlers.ListUsersHandler())
			adminGroup.PUT("/users/:id/role", userHandlers.ChangeRoleHandler())
			adminGroup.POST("/users/:id/suspend", userHandlers.SuspendUserHandler())
			adminGroup.POST("/users/:id/reactivate", userHandlers.ReactivateUserHandler())
			adminGroup.GET("/events", eventHandlers.ListEventsHandler())
		}
	}

	bg := &BackgroundServices{
		keyScanner: keyScanner,
		limiter:    limiter,
		exporter:   exporter,
	}

	return router, bg
}

// healthHandler reports process liveness. It deliberately checks nothing
// external; a wedged database must not make the orchestrator restart healthy
// processes.
func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readyHandler reports whether the service can do useful work, which means
// the database answers a ping.
func readyHandler(database *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := database.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready": false,
				"error": "database not ready",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready": true,
			"time":  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version.
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// The slog handler installed by telemetry.SetupLogger decides the
		// output format; both config values produce the same attrs.
		if cfg.Logging.Format == "json" {
			logJSON(c, latency, path, query)
		} else {
			logText(c, latency, path, query)
		}
	}
}

// logJSON logs a request as a JSON-structured slog record.
func logJSON(c *gin.Context, latency time.Duration, path, query string) {
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

// logText logs a request as a human-readable slog text record.
func logText(c *gin.Context, latency time.Duration, path, query string) {
	// reuse the same structured output; slog will emit text format when the
	// global handler is a TextHandler (configured in telemetry.SetupLogger).
	logJSON(c, latency, path, query)
}

// CORSMiddleware handles CORS for the dashboard origin.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowedMethods := strings.Join(cfg.Security.CORS.AllowedMethods, ", ")

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
			c.Header("Access-Control-Allow-Methods", allowedMethods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
