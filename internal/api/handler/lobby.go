package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/bunker/internal/api/middleware"
	"github.com/mcoot/bunker/internal/api/request"
	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/services/lobby"
)

// LobbyHandler handles lobby-related endpoints
type LobbyHandler struct {
	lobbyController *lobby.Controller
}

// NewLobbyHandler creates a new lobby handler
func NewLobbyHandler(lobbyController *lobby.Controller) *LobbyHandler {
	return &LobbyHandler{
		lobbyController: lobbyController,
	}
}

func lobbyName(r *http.Request) model.LobbyName {
	return model.LobbyName(mux.Vars(r)["name"])
}

// Create handles POST /api/v1/lobbies
func (h *LobbyHandler) Create(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	var req request.CreateLobbyRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	creds := model.LobbyCredentials{Name: model.LobbyName(req.Name), Password: req.Password}
	view, err := h.lobbyController.Create(r.Context(), creds, *player)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.SetETag(w, view.Lobby.Version)
	response.JSON(w, http.StatusCreated, response.LobbyViewFromController(view))
}

// Get handles GET /api/v1/lobbies/{name}
func (h *LobbyHandler) Get(w http.ResponseWriter, r *http.Request) {
	lobby, err := h.lobbyController.GetLobby(r.Context(), lobbyName(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.SetETag(w, lobby.Version)
	response.JSON(w, http.StatusOK, response.LobbyFromModel(lobby))
}

// Exists handles GET /api/v1/lobbies/{name}/exists
func (h *LobbyHandler) Exists(w http.ResponseWriter, r *http.Request) {
	name := lobbyName(r)
	response.JSON(w, http.StatusOK, response.Exists{
		Name:   string(name),
		Exists: h.lobbyController.Exists(r.Context(), name),
	})
}

// Join handles POST /api/v1/lobbies/{name}/join
func (h *LobbyHandler) Join(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	var req request.JoinLobbyRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	creds := model.LobbyCredentials{Name: lobbyName(r), Password: req.Password}
	view, err := h.lobbyController.Join(r.Context(), creds, *player)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.SetETag(w, view.Lobby.Version)
	response.JSON(w, http.StatusOK, response.LobbyViewFromController(view))
}

// Leave handles POST /api/v1/lobbies/{name}/leave
func (h *LobbyHandler) Leave(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())
	name := lobbyName(r)

	row, err := h.lobbyController.Participation(r.Context(), player.ID)
	if err != nil {
		WriteError(w, err)
		return
	}
	if row.LobbyName != name {
		WriteError(w, model.ErrParticipationNotFound)
		return
	}

	if _, err := h.lobbyController.Leave(r.Context(), *player); err != nil {
		WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Delete handles DELETE /api/v1/lobbies/{name}. An If-Match header pins
// the delete to the lobby version the caller last saw.
func (h *LobbyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	var req request.DeleteLobbyRequest
	if err := decode(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}

	version, ok := response.ParseETag(r.Header.Get("If-Match"))
	if !ok {
		WriteError(w, NewInvalidRequestError("If-Match must be a lobby version"))
		return
	}

	creds := model.LobbyCredentials{Name: lobbyName(r), Password: req.Password}
	deleted, err := h.lobbyController.Delete(r.Context(), creds, *player, version)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Deleted{Deleted: deleted})
}

// DeleteAll handles DELETE /api/v1/lobbies
func (h *LobbyHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	player := middleware.MustGetPlayer(r.Context())

	deleted, err := h.lobbyController.DeleteAll(r.Context(), *player)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.Deleted{Deleted: deleted})
}

// Participants handles GET /api/v1/lobbies/{name}/participants
func (h *LobbyHandler) Participants(w http.ResponseWriter, r *http.Request) {
	rows, err := h.lobbyController.Participants(r.Context(), lobbyName(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.ParticipantsFromModel(rows))
}

// Players handles GET /api/v1/lobbies/{name}/players
func (h *LobbyHandler) Players(w http.ResponseWriter, r *http.Request) {
	name := lobbyName(r)
	players, err := h.lobbyController.Players(r.Context(), name)
	if err != nil {
		WriteError(w, err)
		return
	}
	if players == nil {
		players = []model.Characteristic{}
	}

	response.JSON(w, http.StatusOK, response.Players{Lobby: string(name), Players: players})
}
