package server

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/openfondos/grantmirror/internal/handlers"
	"github.com/openfondos/grantmirror/internal/middleware"
	"github.com/openfondos/grantmirror/internal/observability"
)

type RouterConfig struct {
	TriggerAuth   *middleware.TriggerAuth
	SyncHandler   *handlers.SyncHandler
	HealthHandler *handlers.HealthHandler
	Metrics       *observability.Metrics
	AllowOrigins  []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()
	router.Use(otelgin.Middleware("grantmirror-api"))
	router.Use(middleware.AttachTraceContext())

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// ===============
	// || Public    ||
	// ===============
	router.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	// ===============
	// || Protected ||
	// ===============
	api := router.Group("/api")
	api.Use(cfg.TriggerAuth.RequireToken())
	api.POST("/sync", cfg.SyncHandler.TriggerSync)
	api.GET("/sync/runs", cfg.SyncHandler.ListRuns)
	api.GET("/sync/runs/:id", cfg.SyncHandler.GetRun)

	return router
}

// ParseOrigins splits a comma separated origin list from the environment.
func ParseOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
