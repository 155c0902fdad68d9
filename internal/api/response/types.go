package response

import (
	"time"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/services/auth"
	"github.com/mcoot/bunker/internal/services/lobby"
	"github.com/mcoot/bunker/internal/services/reconnect"
	"github.com/mcoot/bunker/internal/session"
	"github.com/mcoot/bunker/internal/traits"
)

// Player represents a player in API responses
type Player struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	IsGuest     bool   `json:"is_guest"`
}

// PlayerFromModel converts a model.Player to a response Player
func PlayerFromModel(p *model.Player) Player {
	return Player{
		ID:          string(p.ID),
		DisplayName: p.DisplayName,
		IsGuest:     p.IsGuest,
	}
}

// AuthResponse is the response for authentication endpoints
type AuthResponse struct {
	Player       Player    `json:"player"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthResponseFromSession creates an AuthResponse from a session
func AuthResponseFromSession(s *auth.Session) AuthResponse {
	return AuthResponse{
		Player:       PlayerFromModel(&s.Player),
		SessionToken: s.Token,
		ExpiresAt:    s.ExpiresAt,
	}
}

// Lobby is the public lobby record; the password is never returned
type Lobby struct {
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LobbyFromModel converts a model.Lobby
func LobbyFromModel(l *model.Lobby) Lobby {
	return Lobby{
		Name:      string(l.Name),
		CreatorID: string(l.CreatorID),
		Version:   l.Version,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

// LobbyView is returned by create and join
type LobbyView struct {
	Lobby   Lobby                  `json:"lobby"`
	Bunker  traits.Bunker          `json:"bunker"`
	Self    model.Characteristic   `json:"self"`
	Players []model.Characteristic `json:"players"`
}

// LobbyViewFromController converts a lobby.View
func LobbyViewFromController(v *lobby.View) LobbyView {
	players := v.Players
	if players == nil {
		players = []model.Characteristic{}
	}
	return LobbyView{
		Lobby:   LobbyFromModel(&v.Lobby),
		Bunker:  v.Bunker,
		Self:    v.Self,
		Players: players,
	}
}

// Exists answers a lobby existence check
type Exists struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// Deleted answers a delete request
type Deleted struct {
	Deleted bool `json:"deleted"`
}

// Participant is one raw participation row as other players see it
type Participant struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	LobbyName   string       `json:"lobby_name"`
	JoinedAt    time.Time    `json:"joined_at"`
	Traits      model.Traits `json:"traits"`
}

// ParticipantsFromModel converts rows, dropping the lobby password
func ParticipantsFromModel(rows []*model.Participation) []Participant {
	out := make([]Participant, 0, len(rows))
	for _, r := range rows {
		out = append(out, Participant{
			ID:          r.ID,
			UserID:      string(r.UserID),
			DisplayName: r.DisplayName,
			LobbyName:   string(r.LobbyName),
			JoinedAt:    r.JoinedAt,
			Traits:      r.Traits,
		})
	}
	return out
}

// Players wraps a characterised player list
type Players struct {
	Lobby   string                 `json:"lobby"`
	Players []model.Characteristic `json:"players"`
}

// Reconnect is the outcome of a server-side reconnect run
type Reconnect struct {
	Outcome reconnect.Outcome       `json:"outcome"`
	State   session.State           `json:"state"`
	Player  *Player                 `json:"player,omitempty"`
	Lobby   *model.LobbyCredentials `json:"lobby,omitempty"`
	Players []model.Characteristic  `json:"players"`
}

// ReconnectFromResult converts a flow result and the session it left behind
func ReconnectFromResult(r *reconnect.Result, snap session.Snapshot) Reconnect {
	out := Reconnect{
		Outcome: r.Outcome,
		State:   snap.State,
		Lobby:   r.Lobby,
		Players: r.Players,
	}
	if r.Player != nil {
		p := PlayerFromModel(r.Player)
		out.Player = &p
	}
	if out.Players == nil {
		out.Players = []model.Characteristic{}
	}
	return out
}

// Health is the health check body
type Health struct {
	Status  string `json:"status"`
	Storage string `json:"storage,omitempty"`
	Feed    string `json:"feed,omitempty"`
}
