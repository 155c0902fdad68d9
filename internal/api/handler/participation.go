package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mcoot/bunker/internal/api/middleware"
	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/services/lobby"
	"github.com/mcoot/bunker/internal/services/reconnect"
	"github.com/mcoot/bunker/internal/session"
)

// ParticipationHandler serves the caller's own lobby seat
type ParticipationHandler struct {
	lobbyController *lobby.Controller
	logger          *slog.Logger

	// Retry policy for reconnect runs
	maxAttempts     int
	initialInterval time.Duration
}

// NewParticipationHandler creates a new participation handler. Zero retry
// settings fall back to the reconnect defaults.
func NewParticipationHandler(lobbyController *lobby.Controller, logger *slog.Logger, maxAttempts int, initialInterval time.Duration) *ParticipationHandler {
	if maxAttempts <= 0 {
		maxAttempts = reconnect.DefaultMaxAttempts
	}
	if initialInterval <= 0 {
		initialInterval = reconnect.DefaultInitialInterval
	}
	return &ParticipationHandler{
		lobbyController: lobbyController,
		logger:          logger,
		maxAttempts:     maxAttempts,
		initialInterval: initialInterval,
	}
}

// Get handles GET /api/v1/me/participation
func (h *ParticipationHandler) Get(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	row, err := h.lobbyController.Participation(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, row)
}

// Delete handles DELETE /api/v1/me/participation
func (h *ParticipationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	if err := h.lobbyController.DeleteParticipation(r.Context(), player.ID); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Reconnect handles POST /api/v1/reconnect. It runs the reconnect flow for
// the caller against a fresh session and reports where it landed.
func (h *ParticipationHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	sess := session.New()
	flow := reconnect.NewFlow(reconnect.Known(player), h.lobbyController, sess, h.logger)
	flow.MaxAttempts = h.maxAttempts
	flow.InitialInterval = h.initialInterval

	result, err := flow.Run(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ReconnectFromResult(result, sess.Snapshot()))
}
