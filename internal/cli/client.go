package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mcoot/bunker/internal/api/apierr"
	"github.com/mcoot/bunker/internal/api/response"
	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/reconciler"
	"github.com/mcoot/bunker/internal/services/reconnect"
)

// Client is an HTTP client for the API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var (
	_ reconnect.Backend  = (*Client)(nil)
	_ reconnect.Identity = (*Client)(nil)
	_ reconciler.Fetcher = (*Client)(nil)
)

// NewClient creates a new API client
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken updates the client's token
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is an error response from the API. It unwraps to the domain
// error its code stands for, so callers can use errors.Is.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *APIError) Unwrap() error {
	if err := apierr.Sentinel(e.Code); err != nil {
		return err
	}
	if e.Status >= http.StatusInternalServerError {
		return model.ErrTransientBackend
	}
	return nil
}

// Do performs an HTTP request
func (c *Client) Do(ctx context.Context, method, path string, body, result any) error {
	_, err := c.do(ctx, method, path, body, result, nil)
	return err
}

// do performs a request with extra headers and returns the response
// headers on success
func (c *Client) do(ctx context.Context, method, path string, body, result any, headers map[string]string) (http.Header, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// Check for error responses
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Code != "" {
			errResp.Error.Status = resp.StatusCode
			return nil, &errResp.Error
		}
		return nil, &APIError{
			Status:  resp.StatusCode,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(respBody)),
		}
	}

	// Parse successful response
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return resp.Header, nil
}

// Get performs a GET request
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.Do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.Do(ctx, http.MethodPost, path, body, result)
}

// Delete performs a DELETE request
func (c *Client) Delete(ctx context.Context, path string, body, result any) error {
	return c.Do(ctx, http.MethodDelete, path, body, result)
}

func lobbyPath(name model.LobbyName, suffix ...string) string {
	p := "/api/v1/lobbies/" + url.PathEscape(string(name))
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// CurrentPlayer resolves the token to a player. No token means nobody is
// signed in.
func (c *Client) CurrentPlayer(ctx context.Context) (*model.Player, error) {
	if c.token == "" {
		return nil, nil
	}
	var p response.Player
	if err := c.Get(ctx, "/api/v1/players/me", &p); err != nil {
		return nil, err
	}
	return &model.Player{ID: model.PlayerID(p.ID), DisplayName: p.DisplayName, IsGuest: p.IsGuest}, nil
}

// Participation returns the caller's own row. The server identifies the
// caller by token, so userID is informational.
func (c *Client) Participation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	var row model.Participation
	if err := c.Get(ctx, "/api/v1/me/participation", &row); err != nil {
		return nil, err
	}
	return &row, nil
}

// DeleteParticipation removes the caller's own row
func (c *Client) DeleteParticipation(ctx context.Context, userID model.PlayerID) error {
	return c.Delete(ctx, "/api/v1/me/participation", nil, nil)
}

// Players returns the characterised player list of a lobby
func (c *Client) Players(ctx context.Context, name model.LobbyName) ([]model.Characteristic, error) {
	var out response.Players
	if err := c.Get(ctx, lobbyPath(name, "players"), &out); err != nil {
		return nil, err
	}
	return out.Players, nil
}

// Participants returns a lobby's rows in join order. Rows come back
// without the lobby password.
func (c *Client) Participants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error) {
	var out []response.Participant
	if err := c.Get(ctx, lobbyPath(name, "participants"), &out); err != nil {
		return nil, err
	}
	rows := make([]*model.Participation, 0, len(out))
	for _, p := range out {
		rows = append(rows, &model.Participation{
			ID:          p.ID,
			UserID:      model.PlayerID(p.UserID),
			DisplayName: p.DisplayName,
			LobbyName:   model.LobbyName(p.LobbyName),
			JoinedAt:    p.JoinedAt,
			Traits:      p.Traits,
		})
	}
	return rows, nil
}

// CreateLobby creates a lobby with the caller as creator
func (c *Client) CreateLobby(ctx context.Context, creds model.LobbyCredentials) (*response.LobbyView, error) {
	var view response.LobbyView
	body := map[string]string{"name": string(creds.Name), "password": creds.Password}
	if err := c.Post(ctx, "/api/v1/lobbies", body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// JoinLobby joins an existing lobby
func (c *Client) JoinLobby(ctx context.Context, creds model.LobbyCredentials) (*response.LobbyView, error) {
	var view response.LobbyView
	body := map[string]string{"password": creds.Password}
	if err := c.Post(ctx, lobbyPath(creds.Name, "join"), body, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// LeaveLobby removes the caller from a lobby
func (c *Client) LeaveLobby(ctx context.Context, name model.LobbyName) error {
	return c.Post(ctx, lobbyPath(name, "leave"), nil, nil)
}

// DeleteLobby deletes a lobby. A non-zero version is sent as If-Match.
func (c *Client) DeleteLobby(ctx context.Context, creds model.LobbyCredentials, version int64) (bool, error) {
	var headers map[string]string
	if version > 0 {
		headers = map[string]string{"If-Match": response.FormatETag(version)}
	}
	var out response.Deleted
	body := map[string]string{"password": creds.Password}
	if _, err := c.do(ctx, http.MethodDelete, lobbyPath(creds.Name), body, &out, headers); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// DeleteAllLobbies deletes every lobby
func (c *Client) DeleteAllLobbies(ctx context.Context) (bool, error) {
	var out response.Deleted
	if err := c.Delete(ctx, "/api/v1/lobbies", nil, &out); err != nil {
		return false, err
	}
	return out.Deleted, nil
}

// LobbyExists checks whether a lobby is live
func (c *Client) LobbyExists(ctx context.Context, name model.LobbyName) (bool, error) {
	var out response.Exists
	if err := c.Get(ctx, lobbyPath(name, "exists"), &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// GetLobby returns the lobby record and its current version
func (c *Client) GetLobby(ctx context.Context, name model.LobbyName) (*response.Lobby, error) {
	var out response.Lobby
	header, err := c.do(ctx, http.MethodGet, lobbyPath(name), nil, &out, nil)
	if err != nil {
		return nil, err
	}
	if v, ok := response.ParseETag(header.Get("ETag")); ok && v > 0 {
		out.Version = v
	}
	return &out, nil
}

// IsNotFound reports whether err means the lobby or row is gone
func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrLobbyNotFound) || errors.Is(err, model.ErrParticipationNotFound)
}
