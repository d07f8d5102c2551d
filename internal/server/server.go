package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/zhejian/pastebin/internal/api"
	"github.com/zhejian/pastebin/internal/config"
	"github.com/zhejian/pastebin/internal/events"
	"github.com/zhejian/pastebin/internal/middleware"
	"github.com/zhejian/pastebin/internal/observability"
	"github.com/zhejian/pastebin/internal/repository"
	"github.com/zhejian/pastebin/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// redisPinger adapts *redis.Client to api.CacheInterface.
type redisPinger struct{ client *redis.Client }

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Dependencies are the connected backends the HTTP layer is built on.
// Store is the undecorated paste store; Cache and Publisher are optional.
type Dependencies struct {
	Store         repository.PasteRepositoryInterface
	Cache         *redis.Client
	Publisher     events.Publisher
	Observability *observability.Observability
}

// NewRouter initializes all dependencies and returns a configured Gin router.
// This is useful for testing where you don't need the full HTTP server.
func NewRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	logger := deps.Observability.Logger
	publisher := deps.Publisher
	if publisher == nil {
		publisher = events.NopPublisher{}
	}

	store := DecorateStore(deps.Store, deps.Cache, cfg, logger)
	pasteService := service.NewPasteService(store, cfg.App.BaseURL, cfg.App.IDLength, cfg.App.IDRetries,
		service.WithPublisher(publisher),
		service.WithLogger(logger),
	)

	// An untyped nil keeps the handler's "cache disabled" check working
	var cache api.CacheInterface
	if deps.Cache != nil {
		cache = &redisPinger{client: deps.Cache}
	}
	handler := api.NewHandler(pasteService, store, cache, logger, cfg.App.TestMode)

	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.Observability.ServiceName),
		middleware.RequestID(),
		middleware.Logging(logger),
		gin.Recovery(),
		cors.New(cors.Config{
			AllowOrigins:  []string{cfg.App.FrontendURL},
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:  []string{"Content-Type", middleware.RequestIDHeader},
			ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader},
			MaxAge:        12 * time.Hour,
		}),
	)
	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(deps.Observability.MetricsHandler()))

	return router
}

// NewServer initializes all dependencies and returns a configured HTTP server.
// This includes the router plus HTTP server settings (timeouts, address, etc.).
func NewServer(cfg *config.Config, deps Dependencies) *http.Server {
	router := NewRouter(cfg, deps)

	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}
