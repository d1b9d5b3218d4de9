package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/config"
	"github.com/presencekit/relay-server/internal/core"
	"github.com/presencekit/relay-server/internal/store"
)

// NewServer builds the HTTP server: health, read-only relay state under
// /api, and the WebSocket upgrade path.
func NewServer(registry *core.Registry, presence *core.Presence, router *core.Router, avatars store.AvatarStore, cfg config.Config, logger *zerolog.Logger) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(LoggerMiddleware(logger), gin.Recovery())

	engine.GET("/healthz", healthHandler)

	api := NewAPIHandlers(registry, avatars, logger)
	engine.GET("/api/presence", api.GetPresence)
	engine.GET("/api/stats", api.GetStats)
	engine.GET("/api/avatars", api.GetAvatars)

	engine.GET("/ws", gin.WrapH(NewWSHandler(registry, presence, router, logger)))

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
