package testutil

import (
	"time"

	"github.com/mcoot/bunker/internal/model"
)

// Epoch is the fixed start time used by mock clocks in tests
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Guest builds a guest player
func Guest(id, name string) model.Player {
	return model.Player{
		ID:          model.PlayerID(id),
		DisplayName: name,
		IsGuest:     true,
		CreatedAt:   Epoch,
	}
}

// Creds builds lobby credentials
func Creds(name, password string) model.LobbyCredentials {
	return model.LobbyCredentials{Name: model.LobbyName(name), Password: password}
}

// UserIDs lists the user ids of a characterised player list in order
func UserIDs(players []model.Characteristic) []string {
	out := make([]string, len(players))
	for i, p := range players {
		out[i] = string(p.UserID)
	}
	return out
}
