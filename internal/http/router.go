// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, identity, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Event streams are never buffered (no gzip on /api/chat)
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/go-tutor-chat/docs"
	"github.com/tbourn/go-tutor-chat/internal/config"
	"github.com/tbourn/go-tutor-chat/internal/domain"
	"github.com/tbourn/go-tutor-chat/internal/http/handlers"
	"github.com/tbourn/go-tutor-chat/internal/http/middleware"
	"github.com/tbourn/go-tutor-chat/internal/llm"
	"github.com/tbourn/go-tutor-chat/internal/observability"
	"github.com/tbourn/go-tutor-chat/internal/repo"
	"github.com/tbourn/go-tutor-chat/internal/services"
)

// ChatPath is the event-stream endpoint. It is not versioned.
const ChatPath = "/api/chat"

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface expected by ConversationService.
type conversationRepoShim struct{}

// CreateConversation proxies repo.CreateConversation.
func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, userID, botID, title string) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, userID, botID, title)
}

// GetConversation proxies repo.GetConversation.
func (conversationRepoShim) GetConversation(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Conversation, error) {
	return repo.GetConversation(ctx, db, id, userID)
}

// CountConversations proxies repo.CountConversations (pagination support).
func (conversationRepoShim) CountConversations(ctx context.Context, db *gorm.DB, userID, botID string) (int64, error) {
	return repo.CountConversations(ctx, db, userID, botID)
}

// ListConversationsPage proxies repo.ListConversationsPage (pagination support).
func (conversationRepoShim) ListConversationsPage(ctx context.Context, db *gorm.DB, userID, botID string, offset, limit int) ([]domain.Conversation, error) {
	return repo.ListConversationsPage(ctx, db, userID, botID, offset, limit)
}

// UpdateConversationTitle proxies repo.UpdateConversationTitle.
func (conversationRepoShim) UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return repo.UpdateConversationTitle(ctx, db, id, userID, title)
}

// TouchConversation proxies repo.TouchConversation.
func (conversationRepoShim) TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return repo.TouchConversation(ctx, db, id, at)
}

// AppendMessage proxies repo.AppendMessage.
func (conversationRepoShim) AppendMessage(ctx context.Context, db *gorm.DB, conversationID, role, content string) (*domain.Message, error) {
	return repo.AppendMessage(ctx, db, conversationID, role, content)
}

// ListMessages proxies repo.ListMessages.
func (conversationRepoShim) ListMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, conversationID, limit)
}

// Deps are the process-level collaborators of the router.
type Deps struct {
	DB        *gorm.DB
	Providers *llm.Registry
	// Recorder receives assistant turns; nil writes them inline.
	Recorder *services.Recorder
	// Registerer and Gatherer back /metrics. Both default to the
	// Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and returns the chat service it built, so the caller can share its
// metrics and limits.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. CORS and security headers
//  6. Body size limiter
//  7. Metrics
//  8. Auth: resolve the caller (never rejects)
//  9. Rate limiter (per user/IP, bypass on idempotent replay)
//  10. gzip for JSON endpoints
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) *services.ChatService {
	r.HandleMethodNotAllowed = true

	reg, gat := d.Registerer, d.Gatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gat == nil {
		gat = prometheus.DefaultGatherer
	}

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.Logger(middleware.LogOptions{
		Redact:      true,
		MaskHeaders: []string{"X-API-Key"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) CORS posture and security headers
	r.Use(corsMiddleware(cfg))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.NewHTTPMetrics(reg).Handler())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gat, promhttp.HandlerOpts{})))

	// 8) Identity
	r.Use(middleware.Auth(middleware.AuthOptions{
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		CookieName: cfg.Auth.CookieName,
		DevHeader:  cfg.Auth.DevHeader,
	}))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) Compression; streamed replies must reach the client unbuffered
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{ChatPath, "/metrics"})))

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

	// Dependency injection: services ← repo/db/providers
	bots := services.NewBotRegistry(d.DB)
	convs := services.NewConversationService(d.DB, conversationRepoShim{}, bots)
	chat := services.NewChatService(bots, convs, d.Providers, d.Recorder)
	chat.Timeout = cfg.Chat.Timeout
	chat.MaxTurns = cfg.Chat.MaxTurns
	chat.MaxRunes = cfg.Chat.MaxRunes
	chat.PersistTimeout = cfg.Persist.Timeout
	chat.Metrics = observability.NewChatMetrics(reg)

	h := handlers.New(handlers.Deps{
		Bots:           bots,
		Conversations:  convs,
		Chat:           chat,
		DB:             d.DB,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})

	// Streaming chat
	r.POST(ChatPath, h.Chat)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/bots", h.ListBots)

		authed := api.Group("", middleware.RequireUser())
		authed.POST("/conversations", middleware.IdempotencyValidator(
			middleware.IdempotencyOptions{MaxLen: 200},
			func(ctx context.Context, userID, scope, key string, now time.Time) (string, bool, error) {
				rec, err := repo.GetIdempotency(ctx, d.DB, userID, scope, key, now)
				switch {
				case err == nil:
					return rec.ResourceID, true, nil
				case errors.Is(err, repo.ErrNotFound):
					return "", false, nil
				default:
					return "", false, err
				}
			},
		), h.CreateConversation)
		authed.GET("/conversations", h.ListConversations)
		authed.GET("/conversations/:id/messages", h.ListMessages)
	}
	return chat
}

// corsMiddleware allows every origin when none are configured; otherwise it
// echoes allowlisted origins only. Credentials are allowed only with an
// allowlist, so session cookies never reach a wildcard origin.
func corsMiddleware(cfg config.Config) gin.HandlerFunc {
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID", middleware.HeaderIdempotencyKey}
	if cfg.Auth.DevHeader {
		allowHeaders = append(allowHeaders, middleware.HeaderUserID)
	}
	cc := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  allowHeaders,
		ExposeHeaders: []string{"X-Request-ID", "ETag", "Retry-After", handlers.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.CORS.AllowedOrigins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
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
