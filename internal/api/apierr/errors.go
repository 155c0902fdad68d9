package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/services/auth"
)

// APIError represents an API error response
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an APIError
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// Common error codes
const (
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodeInvalidLobbyName      = "INVALID_LOBBY_NAME"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodePlayerNotFound        = "PLAYER_NOT_FOUND"
	CodeDuplicateLobby        = "DUPLICATE_LOBBY"
	CodeLobbyNotFound         = "LOBBY_NOT_FOUND"
	CodeBadPassword           = "BAD_PASSWORD"
	CodeAlreadyJoined         = "ALREADY_JOINED"
	CodeNotCreator            = "NOT_CREATOR"
	CodeVersionConflict       = "VERSION_CONFLICT"
	CodeParticipationNotFound = "PARTICIPATION_NOT_FOUND"
	CodeEmptyTemplatePool     = "EMPTY_TEMPLATE_POOL"
	CodeUsernameExists        = "USERNAME_EXISTS"
	CodeInvalidUsername       = "INVALID_USERNAME"
	CodeWeakPassword          = "WEAK_PASSWORD"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeRateLimited           = "RATE_LIMITED"
	CodeTransient             = "TRANSIENT"
	CodeInternalError         = "INTERNAL_ERROR"
)

// httpError combines an HTTP status code with an APIError
type httpError struct {
	status   int
	apiError APIError
}

// Error implements error interface
func (e *httpError) Error() string {
	return e.apiError.Message
}

// WriteError writes an error response to the response writer
func WriteError(w http.ResponseWriter, err error) {
	he := toHTTPError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(he.status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: he.apiError})
}

// Status returns the HTTP status an error maps to
func Status(err error) int {
	return toHTTPError(err).status
}

// toHTTPError converts an error to an httpError
func toHTTPError(err error) *httpError {
	var he *httpError
	if errors.As(err, &he) {
		return he
	}

	switch {
	// Auth errors first: ErrInvalidSession also matches ErrUnauthenticated
	case errors.Is(err, auth.ErrInvalidCredentials):
		return &httpError{http.StatusUnauthorized, APIError{CodeInvalidCredentials, "Invalid username or password"}}
	case errors.Is(err, auth.ErrInvalidSession):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Invalid or expired session"}}
	case errors.Is(err, auth.ErrUsernameExists):
		return &httpError{http.StatusConflict, APIError{CodeUsernameExists, "Username already exists"}}
	case errors.Is(err, auth.ErrInvalidUsername):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidUsername, err.Error()}}
	case errors.Is(err, auth.ErrWeakPassword):
		return &httpError{http.StatusBadRequest, APIError{CodeWeakPassword, err.Error()}}

	case errors.Is(err, model.ErrUnauthenticated):
		return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
	case errors.Is(err, model.ErrPlayerNotFound):
		return &httpError{http.StatusNotFound, APIError{CodePlayerNotFound, "Player not found"}}
	case errors.Is(err, model.ErrInvalidLobbyName):
		return &httpError{http.StatusBadRequest, APIError{CodeInvalidLobbyName, "Invalid lobby name"}}
	case errors.Is(err, model.ErrDuplicateLobby):
		return &httpError{http.StatusConflict, APIError{CodeDuplicateLobby, "A lobby with this name already exists"}}
	case errors.Is(err, model.ErrLobbyNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeLobbyNotFound, "Lobby not found"}}
	case errors.Is(err, model.ErrBadPassword):
		return &httpError{http.StatusForbidden, APIError{CodeBadPassword, "Incorrect lobby password"}}
	case errors.Is(err, model.ErrAlreadyJoined):
		return &httpError{http.StatusConflict, APIError{CodeAlreadyJoined, "Already in a lobby"}}
	case errors.Is(err, model.ErrNotCreator):
		return &httpError{http.StatusForbidden, APIError{CodeNotCreator, "Only the lobby creator can perform this action"}}
	case errors.Is(err, model.ErrVersionConflict):
		return &httpError{http.StatusPreconditionFailed, APIError{CodeVersionConflict, "Lobby was modified; reload and retry"}}
	case errors.Is(err, model.ErrParticipationNotFound):
		return &httpError{http.StatusNotFound, APIError{CodeParticipationNotFound, "Not in a lobby"}}
	case errors.Is(err, model.ErrEmptyTemplatePool):
		return &httpError{http.StatusInternalServerError, APIError{CodeEmptyTemplatePool, "No trait templates configured"}}
	case errors.Is(err, model.ErrTransientBackend):
		return &httpError{http.StatusServiceUnavailable, APIError{CodeTransient, "Backend temporarily unavailable"}}

	default:
		return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) error {
	return &httpError{http.StatusBadRequest, APIError{CodeInvalidRequest, message}}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError() error {
	return &httpError{http.StatusUnauthorized, APIError{CodeUnauthorized, "Authentication required"}}
}

// NewRateLimitedError creates a too-many-requests error
func NewRateLimitedError() error {
	return &httpError{http.StatusTooManyRequests, APIError{CodeRateLimited, "Too many attempts; slow down"}}
}

// NewInternalError creates an internal server error
func NewInternalError() error {
	return &httpError{http.StatusInternalServerError, APIError{CodeInternalError, "Internal server error"}}
}

// sentinels maps wire codes back to the errors they came from
var sentinels = map[string]error{
	CodeInvalidLobbyName:      model.ErrInvalidLobbyName,
	CodeUnauthorized:          model.ErrUnauthenticated,
	CodePlayerNotFound:        model.ErrPlayerNotFound,
	CodeDuplicateLobby:        model.ErrDuplicateLobby,
	CodeLobbyNotFound:         model.ErrLobbyNotFound,
	CodeBadPassword:           model.ErrBadPassword,
	CodeAlreadyJoined:         model.ErrAlreadyJoined,
	CodeNotCreator:            model.ErrNotCreator,
	CodeVersionConflict:       model.ErrVersionConflict,
	CodeParticipationNotFound: model.ErrParticipationNotFound,
	CodeEmptyTemplatePool:     model.ErrEmptyTemplatePool,
	CodeTransient:             model.ErrTransientBackend,
	CodeUsernameExists:        auth.ErrUsernameExists,
	CodeInvalidUsername:       auth.ErrInvalidUsername,
	CodeWeakPassword:          auth.ErrWeakPassword,
	CodeInvalidCredentials:    auth.ErrInvalidCredentials,
}

// Sentinel returns the error a wire code stands for, or nil if the code
// has no sentinel
func Sentinel(code string) error {
	return sentinels[code]
}
