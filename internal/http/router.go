// Package httpapi wires the HTTP transport (Gin) to the message core:
// middleware, route table and fallbacks. Components are constructed by the
// caller and injected through Deps.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-chat-store/internal/config"
	"github.com/tbourn/go-chat-store/internal/http/handlers"
	"github.com/tbourn/go-chat-store/internal/http/middleware"
)

// Deps are the components served by the API. History may be nil.
type Deps struct {
	Store    handlers.MessageStore
	Pipeline handlers.Pipeline
	History  handlers.History
}

var (
	corsMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", "If-None-Match", middleware.HeaderIdempotencyKey}
	corsExpose  = []string{"X-Request-ID", "Content-Length", "ETag", "Content-Disposition", "X-Export-Count", "Retry-After", "Idempotency-Replayed"}
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Identity: correlation id and caller id
//  3. Logger: structured logs with search terms redacted
//  4. Recovery: capture panics after logger, then Idempotency-Key validation
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (exports and search results compress well)
//  8. Rate limiter (per user/IP; health and metrics exempt)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.IdempotencyKey(middleware.IdempotencyOptions{}))

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), "/health", "/metrics")
	r.Use(rl.Handler())

	if len(cfg.CORS.AllowedOrigins) == 0 {
		// ACAO: * even without an Origin header
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
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
			AllowMethods:     corsMethods,
			AllowHeaders:     corsHeaders,
			ExposeHeaders:    corsExpose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Store, deps.Pipeline, deps.History)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Rooms
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id/messages", h.ListRoomMessages)
		api.GET("/rooms/:id/unread", h.UnreadCount)
		api.POST("/rooms/:id/read", h.MarkRoomRead)
		api.GET("/rooms/:id/export", h.ExportRoom)

		// Messages
		api.POST("/messages", h.SubmitMessage)
		api.GET("/messages/:id", h.GetMessage)
		api.POST("/messages/:id/read", h.MarkMessageRead)
		api.DELETE("/messages/:id", h.DeleteMessage)

		// Search & stats
		api.GET("/search", h.Search)
		api.GET("/search/relevant", h.SearchRelevant)
		api.GET("/suggest", h.Suggest)
		api.GET("/stats", h.Stats)
	}
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader;
// reads past the cap fail.
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
