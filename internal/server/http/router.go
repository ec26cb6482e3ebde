// Package http exposes the coaching services over gin: chat, uploads,
// context administration and the per-user SSE event stream.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cragcoach/internal/chat"
	"cragcoach/internal/climbing"
	"cragcoach/internal/events"
	"cragcoach/internal/formatter"
	"cragcoach/internal/logging"
	"cragcoach/internal/observability"
	"cragcoach/internal/orchestrator"
)

const defaultMaxUploadBytes int64 = 5 << 20

// ContextService is the orchestrator surface the API uses.
type ContextService interface {
	GetContext(ctx context.Context, userID any, opts orchestrator.GetOptions) (*formatter.Document, bool)
	RefreshContext(ctx context.Context, userID any, conversationID string) bool
	BulkRefresh(ctx context.Context, userIDs []any, batchSize int) map[climbing.UserID]bool
}

// Invalidator drops cached contexts.
type Invalidator interface {
	Invalidate(ctx context.Context, userID, conversationID string) bool
}

// ChatService answers prompts and ingests uploads.
type ChatService interface {
	Process(ctx context.Context, req chat.Request) (*chat.Response, error)
	HandleUpload(ctx context.Context, userID any, filename string, content []byte) (*chat.UploadResult, error)
}

// EventStreams opens per-user event streams.
type EventStreams interface {
	Subscribe(ctx context.Context, userID any, transport events.Transport) (*events.Stream, error)
	ActiveSubscriptions() int
}

// Dependencies wires the router.
type Dependencies struct {
	Contexts       ContextService
	Cache          Invalidator
	Chat           ChatService
	Events         EventStreams
	Metrics        http.Handler
	Tracer         *observability.TracerProvider
	Logger         logging.Logger
	AllowedOrigins []string
	MaxUploadBytes int64
	BulkBatchSize  int
	Clock          func() time.Time
}

// NewRouter builds the gin engine with every endpoint registered.
func NewRouter(deps Dependencies) *gin.Engine {
	logger := logging.OrNop(deps.Logger)
	if deps.Logger == nil {
		logger = logging.NewComponentLogger("Router")
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	if deps.BulkBatchSize <= 0 {
		deps.BulkBatchSize = orchestrator.DefaultBatchSize
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(accessLogMiddleware(logger))
	engine.Use(cors.New(corsConfig(deps.AllowedOrigins)))

	api := &apiHandler{deps: deps, logger: logger}
	sse := &sseHandler{events: deps.Events, tracer: deps.Tracer, logger: logger}

	engine.GET("/healthz", api.handleHealth)
	if deps.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	group := engine.Group("/api")
	group.GET("/events/:user_id", sse.handleStream)
	group.POST("/chat", api.handleChat)
	group.POST("/uploads/:user_id", api.handleUpload)

	contexts := group.Group("/context")
	{
		contexts.POST("/bulk-refresh", api.handleBulkRefresh)
		contexts.GET("/:user_id", api.handleGetContext)
		contexts.POST("/:user_id/refresh", api.handleRefreshContext)
		contexts.DELETE("/:user_id", api.handleInvalidateContext)
	}
	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "Last-Event-ID"}
	cfg.ExposeHeaders = []string{"X-Request-ID"}
	return cfg
}
