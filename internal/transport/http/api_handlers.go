package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/presencekit/relay-server/internal/core"
	"github.com/presencekit/relay-server/internal/store"
)

// APIHandlers serves read-only snapshots of the relay state.
type APIHandlers struct {
	registry *core.Registry
	avatars  store.AvatarStore
	log      *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(registry *core.Registry, avatars store.AvatarStore, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		registry: registry,
		avatars:  avatars,
		log:      logger,
	}
}

// PresenceResponse lists the currently registered identities.
type PresenceResponse struct {
	Users []string `json:"users"`
}

// StatsResponse summarizes the registry.
type StatsResponse struct {
	Connections int `json:"connections"`
	Registered  int `json:"registered"`
}

// AvatarsResponse maps identities to their stored avatar seeds.
type AvatarsResponse struct {
	Avatars map[string]string `json:"avatars"`
}

// ErrorResponse is the JSON error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// GetPresence handles GET /api/presence.
func (h *APIHandlers) GetPresence(c *gin.Context) {
	c.JSON(http.StatusOK, PresenceResponse{Users: h.registry.Identities()})
}

// GetStats handles GET /api/stats.
func (h *APIHandlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Connections: h.registry.LiveCount(),
		Registered:  h.registry.RegisteredCount(),
	})
}

// GetAvatars handles GET /api/avatars.
func (h *APIHandlers) GetAvatars(c *gin.Context) {
	if h.avatars == nil {
		c.JSON(http.StatusOK, AvatarsResponse{Avatars: map[string]string{}})
		return
	}

	avatars, err := h.avatars.ListAvatars(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("list avatars")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list avatars"})
		return
	}
	c.JSON(http.StatusOK, AvatarsResponse{Avatars: avatars})
}
