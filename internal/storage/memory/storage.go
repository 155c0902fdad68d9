package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/mcoot/bunker/internal/model"
	"github.com/mcoot/bunker/internal/secret"
	"github.com/mcoot/bunker/internal/storage"
)

// Storage is an in-memory implementation of the storage interface.
// A single mutex serialises every write, which makes each conditional
// lobby operation atomic.
type Storage struct {
	mu sync.RWMutex

	players           map[model.PlayerID]*model.Player
	registeredPlayers map[model.PlayerID]*model.RegisteredPlayer
	usernameIndex     map[string]model.PlayerID
	lobbies           map[model.LobbyName]*model.Lobby
	members           map[model.LobbyName][]*model.Participation // join order
	participations    map[model.PlayerID]*model.Participation
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		players:           make(map[model.PlayerID]*model.Player),
		registeredPlayers: make(map[model.PlayerID]*model.RegisteredPlayer),
		usernameIndex:     make(map[string]model.PlayerID),
		lobbies:           make(map[model.LobbyName]*model.Lobby),
		members:           make(map[model.LobbyName][]*model.Participation),
		participations:    make(map[model.PlayerID]*model.Participation),
	}
}

// Ensure Storage implements the interface
var _ storage.Storage = (*Storage)(nil)

// Player operations

func (s *Storage) SavePlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := *player
	s.players[player.ID] = &p
	return nil
}

func (s *Storage) GetPlayer(ctx context.Context, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	p := *player
	return &p, nil
}

// Registered player operations

func (s *Storage) SaveRegisteredPlayer(ctx context.Context, rp *model.RegisteredPlayer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *rp
	s.registeredPlayers[rp.PlayerID] = &r
	s.usernameIndex[rp.Username] = rp.PlayerID
	return nil
}

func (s *Storage) GetRegisteredPlayerByUsername(ctx context.Context, username string) (*model.RegisteredPlayer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	playerID, ok := s.usernameIndex[username]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	rp, ok := s.registeredPlayers[playerID]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	r := *rp
	return &r, nil
}

// Lobby operations

func (s *Storage) CreateLobby(ctx context.Context, lobby *model.Lobby, creator *model.Participation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lobbies[lobby.Name]; ok {
		return model.ErrDuplicateLobby
	}
	if _, ok := s.participations[creator.UserID]; ok {
		return model.ErrAlreadyJoined
	}

	l := *lobby
	if l.Version == 0 {
		l.Version = 1
	}
	row := *creator
	s.lobbies[l.Name] = &l
	s.members[l.Name] = []*model.Participation{&row}
	s.participations[row.UserID] = &row
	lobby.Version = l.Version
	return nil
}

func (s *Storage) JoinLobby(ctx context.Context, creds model.LobbyCredentials, row *model.Participation) (int, *model.Lobby, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lobby, ok := s.lobbies[creds.Name]
	if !ok {
		return 0, nil, model.ErrLobbyNotFound
	}
	if !secret.Equal(creds.Password, lobby.Password) {
		return 0, nil, model.ErrBadPassword
	}
	if _, ok := s.participations[row.UserID]; ok {
		return 0, nil, model.ErrAlreadyJoined
	}

	r := *row
	position := len(s.members[creds.Name])
	s.members[creds.Name] = append(s.members[creds.Name], &r)
	s.participations[r.UserID] = &r
	lobby.Version++
	lobby.UpdatedAt = r.JoinedAt

	l := *lobby
	return position, &l, nil
}

func (s *Storage) GetLobby(ctx context.Context, name model.LobbyName) (*model.Lobby, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lobby, ok := s.lobbies[name]
	if !ok {
		return nil, model.ErrLobbyNotFound
	}
	l := *lobby
	return &l, nil
}

func (s *Storage) LobbyExists(ctx context.Context, name model.LobbyName) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lobbies[name]
	return ok, nil
}

func (s *Storage) ListParticipants(ctx context.Context, name model.LobbyName) ([]*model.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRows(s.members[name]), nil
}

func (s *Storage) UpdateTraits(ctx context.Context, userID model.PlayerID, traits model.Traits) (*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.participations[userID]
	if !ok {
		return nil, model.ErrParticipationNotFound
	}
	row.Traits = traits
	r := *row
	return &r, nil
}

func (s *Storage) DeleteLobby(ctx context.Context, req model.DeleteLobbyRequest) ([]*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lobby, ok := s.lobbies[req.Name]
	if !ok {
		return nil, model.ErrLobbyNotFound
	}
	if !secret.Equal(req.Password, lobby.Password) {
		return nil, model.ErrBadPassword
	}
	if lobby.CreatorID != req.RequesterID {
		return nil, model.ErrNotCreator
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != lobby.Version {
		return nil, model.ErrVersionConflict
	}

	return s.removeLobbyLocked(req.Name), nil
}

func (s *Storage) DeleteAllLobbies(ctx context.Context) ([]*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []*model.Participation
	for name := range s.lobbies {
		removed = append(removed, s.removeLobbyLocked(name)...)
	}
	return removed, nil
}

// Participation operations

func (s *Storage) GetParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.participations[userID]
	if !ok {
		return nil, model.ErrParticipationNotFound
	}
	r := *row
	return &r, nil
}

func (s *Storage) DeleteParticipation(ctx context.Context, userID model.PlayerID) (*model.Participation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.participations[userID]
	if !ok {
		return nil, model.ErrParticipationNotFound
	}
	delete(s.participations, userID)

	name := row.LobbyName
	rows := slices.DeleteFunc(s.members[name], func(p *model.Participation) bool {
		return p.UserID == userID
	})
	if len(rows) == 0 {
		delete(s.members, name)
		delete(s.lobbies, name)
	} else {
		s.members[name] = rows
		if lobby, ok := s.lobbies[name]; ok {
			lobby.Version++
			if lobby.CreatorID == userID {
				lobby.CreatorID = rows[0].UserID
			}
		}
	}

	r := *row
	return &r, nil
}

func (s *Storage) removeLobbyLocked(name model.LobbyName) []*model.Participation {
	rows := s.members[name]
	for _, row := range rows {
		delete(s.participations, row.UserID)
	}
	delete(s.members, name)
	delete(s.lobbies, name)
	return cloneRows(rows)
}

func cloneRows(rows []*model.Participation) []*model.Participation {
	out := make([]*model.Participation, len(rows))
	for i, row := range rows {
		r := *row
		out[i] = &r
	}
	return out
}
