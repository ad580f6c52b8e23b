package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config configures the debug router. OTelServiceName enables otelgin
// tracing middleware when non-empty.
type Config struct {
	OTelServiceName string
}

// NewEngine builds the gin engine: OTel span, then panic recovery, then
// request logging. Order matters here: a span must exist before Recovery
// can attach a trace context to a panic log line, and Logger must run last
// so its duration measurement wraps the full handler chain.
func NewEngine(h *Handler, cfg Config) *gin.Engine {
	engine := gin.New()

	if cfg.OTelServiceName != "" {
		engine.Use(otelgin.Middleware(cfg.OTelServiceName))
	}
	engine.Use(Recovery())
	engine.Use(Logger())

	SetupRoutes(engine, h)
	return engine
}

func SetupRoutes(router *gin.Engine, h *Handler) {
	router.GET("/healthz", h.Healthz)

	tasks := router.Group("/tasks")
	{
		tasks.GET("/:id/snapshot", h.GetSnapshot)
		tasks.GET("/:id/events", h.StreamEvents)
	}
}
