package model

import "errors"

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound  = errors.New("player not found")
	ErrUnauthenticated = errors.New("not authenticated")

	// Lobby errors
	ErrInvalidLobbyName = errors.New("invalid lobby name")
	ErrDuplicateLobby   = errors.New("lobby already exists")
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrBadPassword      = errors.New("incorrect lobby password")
	ErrAlreadyJoined    = errors.New("player is already in a lobby")
	ErrNotCreator       = errors.New("player is not the lobby creator")
	ErrVersionConflict  = errors.New("lobby was modified concurrently")

	// Participation errors
	ErrParticipationNotFound = errors.New("participation not found")

	// Trait errors
	ErrEmptyTemplatePool = errors.New("trait template pool is empty")

	// ErrTransientBackend wraps any backend failure that is not one of the above.
	// Callers may retry.
	ErrTransientBackend = errors.New("backend temporarily unavailable")
)

// IsDomainError reports whether err is one of the lobby taxonomy errors
// rather than an infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var domainErrors = []error{
	ErrPlayerNotFound,
	ErrUnauthenticated,
	ErrInvalidLobbyName,
	ErrDuplicateLobby,
	ErrLobbyNotFound,
	ErrBadPassword,
	ErrAlreadyJoined,
	ErrNotCreator,
	ErrVersionConflict,
	ErrParticipationNotFound,
	ErrEmptyTemplatePool,
	ErrTransientBackend,
}
