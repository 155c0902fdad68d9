package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mcoot/bunker/internal/api/middleware"
	"github.com/mcoot/bunker/internal/feed"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/realtime"
	"github.com/mcoot/bunker/internal/realtime/sse"
)

// RealtimeHandler streams lobby change events
type RealtimeHandler struct {
	subscriber     feed.Subscriber
	hubManager     *sse.HubManager
	originPatterns []string
	logger         *slog.Logger
}

// NewRealtimeHandler creates a new realtime handler
func NewRealtimeHandler(subscriber feed.Subscriber, hubManager *sse.HubManager, originPatterns []string, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{
		subscriber:     subscriber,
		hubManager:     hubManager,
		originPatterns: originPatterns,
		logger:         logger.With(slog.String("component", "realtime")),
	}
}

// Changes handles GET /api/v1/lobbies/{name}/changes (websocket)
func (h *RealtimeHandler) Changes(w http.ResponseWriter, r *http.Request) {
	name := lobbyName(r)
	if err := name.Validate(); err != nil {
		WriteError(w, err)
		return
	}
	realtime.ServeChanges(w, r, h.subscriber, name, h.originPatterns, h.logger)
}

// Events handles GET /api/v1/lobbies/{name}/events (server-sent events)
func (h *RealtimeHandler) Events(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	name := lobbyName(r)
	if err := name.Validate(); err != nil {
		WriteError(w, err)
		return
	}

	// The hub outlives this request; only its values are inherited.
	hub, err := h.hubManager.GetOrCreateHub(context.WithoutCancel(r.Context()), name)
	if err != nil {
		h.logger.Warn("sse feed subscription failed",
			slog.String("lobby", string(name)),
			slog.Any("error", err))
		WriteError(w, fmt.Errorf("%w: %w", model.ErrTransientBackend, err))
		return
	}

	sse.ServeSSE(w, r, hub, player.ID)
}
