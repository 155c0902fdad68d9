package storage

import (
	"context"

	"github.com/mcoot/bunker/internal/model"
)

// Storage defines the interface for data persistence.
//
// Lobby membership writes are atomic conditional operations: each one either
// fully applies or returns a taxonomy error and leaves nothing behind.
type Storage interface {
	// Player operations
	SavePlayer(ctx context.Context, player *model.Player) error
	GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error)

	// Registered player operations
	SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error
	GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error)

	// CreateLobby inserts the lobby and the creator's participation row.
	// Fails with ErrDuplicateLobby or ErrAlreadyJoined.
	CreateLobby(ctx context.Context, lobby *model.Lobby, creator *model.Participation) error

	// JoinLobby verifies the password and appends the row. Returns the
	// zero-based join position of the new row and the updated lobby.
	// Fails with ErrLobbyNotFound, ErrBadPassword or ErrAlreadyJoined.
	JoinLobby(ctx context.Context, creds model.LobbyCredentials, row *model.Participation) (int, *model.Lobby, error)

	GetLobby(ctx context.Context, name model.LobbyName) (*model.Lobby, error)
	LobbyExists(ctx context.Context, name model.LobbyName) (bool, error)

	// ListParticipants returns the lobby's rows in join order
	ListParticipants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error)

	// UpdateTraits replaces the trait overrides on a player's row
	UpdateTraits(ctx context.Context, userID model.PlayerID, traits model.Traits) (*model.Participation, error)

	// DeleteLobby checks, in order: existence, password, creator, version.
	// Returns the removed rows.
	DeleteLobby(ctx context.Context, req model.DeleteLobbyRequest) ([]*model.Participation, error)

	// DeleteAllLobbies removes every lobby and row
	DeleteAllLobbies(ctx context.Context) ([]*model.Participation, error)

	// Participation operations
	GetParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error)

	// DeleteParticipation removes the player's row. Removing the last row of
	// a lobby removes the lobby too.
	DeleteParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error)
}
