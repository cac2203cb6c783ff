// Package httpapi wires the HTTP transport (Gin) to the content
// pipeline services, middleware, and route handlers. It centralizes
// cross-cutting concerns: tracing, correlation IDs, logging, panic
// recovery, metrics, compression, CORS, security headers, idempotency,
// and rate limiting.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Auth: resolve the acting user id
//  4. Logger: structured access logs
//  5. Recovery: capture panics after the logger
//  6. Body size limiter and gzip
//  7. Metrics
//  8. Idempotency validator (before the rate limiter so replays bypass it)
//  9. Rate limiter (per user/IP)
//  10. CORS and security headers
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/quillforum/backend/internal/config"
	"github.com/quillforum/backend/internal/http/handlers"
	"github.com/quillforum/backend/internal/http/middleware"
	"github.com/quillforum/backend/internal/jobs"
	"github.com/quillforum/backend/internal/perms"
	"github.com/quillforum/backend/internal/repo"
	"github.com/quillforum/backend/internal/services"
	"github.com/quillforum/backend/internal/spam"
)

// HeaderUserID carries the authenticated user id, resolved upstream by
// the API gateway. The backend trusts it inside the private network.
const HeaderUserID = "X-User-ID"

// authFromHeader resolves the acting user id from HeaderUserID and
// stores it as int64 under "userID". Absent or malformed values leave
// the request anonymous; endpoint handlers decide whether that is
// acceptable.
func authFromHeader() gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw := c.GetHeader(HeaderUserID); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				c.Set("userID", id)
			}
		}
		c.Next()
	}
}

// RegisterRoutes attaches all middleware and endpoints to the given Gin
// engine: observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints,
// and the versioned moderation API.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Resolve the acting user
	r.Use(authFromHeader())

	// 4) Structured access logs
	r.Use(middleware.Logger())

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB) and response compression
	r.Use(limitBody(1 << 20))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, postID int64, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, postID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	corsHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", HeaderUserID, middleware.HeaderIdempotencyKey}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even without an Origin header (helps tests and
		// simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
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
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
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

	// Dependency injection: handlers ← services ← repo/db
	checker := &spam.KeywordChecker{
		DenyPhrases:         cfg.Spam.DenyPhrases,
		ModeratePhrases:     cfg.Spam.ModeratePhrases,
		MaxLinks:            cfg.Spam.MaxLinks,
		TrustedMessageCount: int64(cfg.Spam.TrustedMessageCount),
	}
	oracle := perms.StateOracle{}
	queue := &jobs.GormQueue{DB: db}
	alerts := &services.RepoAlertDispatcher{DB: db}
	mailer := &services.LogMailer{}

	h := handlers.New(db, cfg, checker, oracle, queue, alerts, mailer)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/posts/:id", h.EditPost)
		api.DELETE("/posts/:id", h.DeletePost)
		api.POST("/posts/:id/approve", h.ApprovePost)
		api.POST("/posts/:id/merge", h.MergePosts)
		api.GET("/posts/:id/history", h.ListHistory)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; oversized bodies error on downstream reads.
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
