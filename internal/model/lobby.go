package model

import (
	"strings"
	"time"
)

// LobbyName is the user-chosen identifier of a lobby. Names are unique
// among live lobbies.
type LobbyName string

// MaxLobbyNameLength bounds lobby names so they fit in keys and channel names.
const MaxLobbyNameLength = 64

// Validate checks that the name is usable as a lobby key
func (n LobbyName) Validate() error {
	s := string(n)
	if strings.TrimSpace(s) == "" || len(s) > MaxLobbyNameLength {
		return ErrInvalidLobbyName
	}
	if strings.ContainsAny(s, "\x00\n\r\t*?[]{}") {
		return ErrInvalidLobbyName
	}
	return nil
}

// LobbyCredentials is what a player types to create or join a lobby
type LobbyCredentials struct {
	Name     LobbyName `json:"name"`
	Password string    `json:"password"`
}

// Lobby is the meta record kept alongside the participation rows.
// Version increments on every membership change and guards deletes.
type Lobby struct {
	Name      LobbyName `json:"name"`
	Password  string    `json:"password"`
	CreatorID PlayerID  `json:"creator_id"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeleteLobbyRequest carries everything the store needs to authorize a delete
// atomically. ExpectedVersion of zero skips the version check.
type DeleteLobbyRequest struct {
	Name            LobbyName
	Password        string
	RequesterID     PlayerID
	ExpectedVersion int64
}
