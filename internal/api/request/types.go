package request

// CreateGuestRequest is the request body for creating a guest player.
// A blank display name gets a generated one.
type CreateGuestRequest struct {
	DisplayName string `json:"display_name"`
}

// RegisterRequest is the request body for registering a player
type RegisterRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CreateLobbyRequest is the request body for creating a lobby
type CreateLobbyRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// JoinLobbyRequest is the request body for joining a lobby
type JoinLobbyRequest struct {
	Password string `json:"password"`
}

// DeleteLobbyRequest is the request body for deleting a lobby. The expected
// version travels in the If-Match header.
type DeleteLobbyRequest struct {
	Password string `json:"password"`
}
