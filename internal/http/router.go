// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, idempotency, rate limiting, CORS, security headers and the
// admin key check.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/sofaltaapipoca/pipoca-broadcast/internal/config"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/http/handlers"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/http/middleware"
	"github.com/sofaltaapipoca/pipoca-broadcast/internal/repo"
)

// InvokePath is the invocation endpoint path. It is also served under
// FunctionsAliasPath so existing admin screens keep working unchanged.
const (
	InvokePath         = "/telegram-integration"
	FunctionsAliasPath = "/functions/v1/telegram-integration"
)

// Services bundles the application services the routes dispatch to.
type Services struct {
	Broadcast handlers.Broadcaster
	Settings  handlers.SettingsStore
	Logs      handlers.LogReader
}

// idempotencyRepoShim adapts the repository free functions to the
// middleware.IdempotencyStore interface.
type idempotencyRepoShim struct {
	db *gorm.DB
}

// Lookup proxies repo.GetIdempotency; a miss is (nil, nil).
func (s idempotencyRepoShim) Lookup(ctx context.Context, scope, key string, now time.Time) (*middleware.StoredResponse, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, scope, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, nil
}

// Save proxies repo.CreateIdempotency. A concurrent duplicate keeps the
// first stored response.
func (s idempotencyRepoShim) Save(ctx context.Context, scope, key string, resp middleware.StoredResponse, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, scope, key, resp.Status, resp.Body, ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with token and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip
//  8. Rate limiter (per client IP)
//  9. CORS and security headers
//
// The admin key check is applied to the API groups only, so /health and
// /metrics stay reachable for probes. Idempotent replay runs inside those
// groups after the admin key, so a stored response is never served to an
// unauthenticated caller.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to the invocation envelope
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression; Prometheus negotiates its own encoding
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 8) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 9) CORS posture (allow all if none configured)
	allowHeaders := []string{
		"Origin", "Content-Type", "Accept", "Authorization", "apikey", "x-client-info",
		middleware.AdminKeyHeader, middleware.HeaderIdempotencyKey,
	}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", middleware.HeaderIdempotencyReplayed}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:           true,
			AllowMethods:              []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:              allowHeaders,
			ExposeHeaders:             exposeHeaders,
			AllowCredentials:          false,
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:              cfg.CORS.AllowedOrigins,
			AllowMethods:              []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:              allowHeaders,
			ExposeHeaders:             exposeHeaders,
			AllowCredentials:          false,
			MaxAge:                    12 * time.Hour,
			OptionsResponseStatusCode: http.StatusOK,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Broadcast, svc.Settings, svc.Logs, handlers.Options{
		RefreshTimeout: cfg.Refresh.Timeout,
		MessagesStats: func(ctx context.Context) (int64, *time.Time, error) {
			return repo.ActiveMessagesStats(ctx, db)
		},
		LogsStats: func(ctx context.Context) (int64, *time.Time, error) {
			return repo.LogsStats(ctx, db)
		},
	})
	admin := middleware.AdminKey(cfg.Security.AdminAPIKey)

	// Idempotent replays of completed POST/PUT responses
	idem := middleware.Idempotency(middleware.IdempotencyOptions{
		MaxLen: 200,
		TTL:    cfg.IdempotencyTTL,
	}, idempotencyRepoShim{db: db})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(admin, idem)
	{
		// Invocation endpoint
		api.POST(InvokePath, h.Invoke)
		api.OPTIONS(InvokePath, h.Preflight)

		// Settings and diagnostics
		api.GET("/telegram/settings", h.GetSettings)
		api.PUT("/telegram/settings", h.UpdateSettings)
		api.GET("/telegram/messages", h.ListMessages)
		api.GET("/telegram/logs", h.ListLogs)

		// Approval hook
		api.POST("/subscriptions/:id/approved", h.SubscriptionApproved)
	}

	// Edge-function compatible alias
	fn := r.Group("", admin, idem)
	fn.POST(FunctionsAliasPath, h.Invoke)
	fn.OPTIONS(FunctionsAliasPath, h.Preflight)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
