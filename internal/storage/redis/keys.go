package redis

import (
	"fmt"

	"github.com/mcoot/bunker/internal/model"
)

// Key prefix for all bunker data
const keyPrefix = "bunker"

// playerKey returns the Redis key for a Player
func playerKey(id model.PlayerID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// registeredPlayerKey returns the Redis key for a RegisteredPlayer
func registeredPlayerKey(playerID model.PlayerID) string {
	return fmt.Sprintf("%s:registered_player:%s", keyPrefix, playerID)
}

// usernameIndexKey returns the Redis key for the username -> player_id index
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}

// lobbyKey returns the Redis key for a lobby meta record
func lobbyKey(name model.LobbyName) string {
	return fmt.Sprintf("%s:lobby:%s", keyPrefix, name)
}

// membersKey returns the Redis LIST of user ids in join order
func membersKey(name model.LobbyName) string {
	return fmt.Sprintf("%s:lobby_members:%s", keyPrefix, name)
}

// participationKey returns the Redis key for a player's participation row
func participationKey(userID model.PlayerID) string {
	return fmt.Sprintf("%s:participation:%s", keyPrefix, userID)
}

// lobbiesIndexKey returns the Redis SET of live lobby names
func lobbiesIndexKey() string {
	return fmt.Sprintf("%s:idx:lobbies", keyPrefix)
}
