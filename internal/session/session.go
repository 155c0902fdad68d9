// Package session holds the client-side view of "who am I, which lobby am
// I in, who else is here" as an explicit state machine.
package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mcoot/bunker/internal/model"
)

// State is the current phase of a client session
type State string

const (
	StateAuthChecking    State = "auth_checking"   // Waiting for the auth provider
	StateUnauthenticated State = "unauthenticated" // No valid identity
	StateNoLobby         State = "no_lobby"        // Authenticated, at the start screen
	StateInLobby         State = "in_lobby"        // Authenticated and seated in a lobby
)

// ErrInvalidTransition is returned when a transition is not allowed from
// the current state
var ErrInvalidTransition = errors.New("invalid session transition")

// Snapshot is an immutable copy of the session
type Snapshot struct {
	State          State                   `json:"state"`
	Player         *model.Player           `json:"player,omitempty"`
	GameStarted    bool                    `json:"game_started"`
	Players        []model.Characteristic  `json:"players"`
	CurrentLobby   *model.LobbyCredentials `json:"current_lobby,omitempty"`
	IsLoading      bool                    `json:"is_loading"`
	IsAuthChecking bool                    `json:"is_auth_checking"`
}

// Session is safe for concurrent use. Observers are called synchronously
// after every change, outside the lock.
type Session struct {
	mu        sync.Mutex
	state     State
	player    *model.Player
	lobby     *model.LobbyCredentials
	players   []model.Characteristic
	loading   int
	observers []func(Snapshot)
}

// New creates a session waiting on the auth provider
func New() *Session {
	return &Session{state: StateAuthChecking}
}

// OnChange registers an observer
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AuthResolved records the outcome of an auth check or login. A nil player
// means nobody is signed in.
func (s *Session) AuthResolved(player *model.Player) error {
	return s.transition(func() error {
		if s.state != StateAuthChecking && s.state != StateUnauthenticated {
			return fmt.Errorf("%w: auth resolved while %s", ErrInvalidTransition, s.state)
		}
		if player == nil {
			s.state = StateUnauthenticated
			return nil
		}
		p := *player
		s.player = &p
		s.state = StateNoLobby
		return nil
	})
}

// AuthLost drops the identity and everything that depended on it
func (s *Session) AuthLost() {
	_ = s.transition(func() error {
		s.clearGame()
		s.player = nil
		s.loading = 0
		s.state = StateUnauthenticated
		return nil
	})
}

// EnterLobby seats the player in a lobby with its current player list.
// Entering a different lobby while seated replaces the previous one.
func (s *Session) EnterLobby(creds model.LobbyCredentials, players []model.Characteristic) error {
	return s.transition(func() error {
		if s.state != StateNoLobby && s.state != StateInLobby {
			return fmt.Errorf("%w: %w", ErrInvalidTransition, model.ErrUnauthenticated)
		}
		c := creds
		s.lobby = &c
		s.players = slices.Clone(players)
		s.state = StateInLobby
		return nil
	})
}

// SetPlayers replaces the player list of the current lobby
func (s *Session) SetPlayers(players []model.Characteristic) error {
	return s.transition(func() error {
		if s.state != StateInLobby {
			return fmt.Errorf("%w: players set while %s", ErrInvalidTransition, s.state)
		}
		s.players = slices.Clone(players)
		return nil
	})
}

// BeginLoading marks an operation in flight. Calls nest.
func (s *Session) BeginLoading() {
	_ = s.transition(func() error {
		s.loading++
		return nil
	})
}

// EndLoading ends one BeginLoading
func (s *Session) EndLoading() {
	_ = s.transition(func() error {
		if s.loading > 0 {
			s.loading--
		}
		return nil
	})
}

// Reset clears the game: no lobby, no players, nothing loading. The
// identity is kept, so a seated player returns to the start screen.
func (s *Session) Reset() {
	_ = s.transition(func() error {
		s.clearGame()
		s.loading = 0
		if s.state == StateInLobby {
			s.state = StateNoLobby
		}
		return nil
	})
}

func (s *Session) clearGame() {
	s.lobby = nil
	s.players = nil
}

func (s *Session) transition(apply func() error) error {
	s.mu.Lock()
	if err := apply(); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.snapshotLocked()
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	return nil
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:          s.state,
		GameStarted:    s.state == StateInLobby,
		Players:        slices.Clone(s.players),
		IsLoading:      s.loading > 0,
		IsAuthChecking: s.state == StateAuthChecking,
	}
	if snap.Players == nil {
		snap.Players = []model.Characteristic{}
	}
	if s.player != nil {
		p := *s.player
		snap.Player = &p
	}
	if s.lobby != nil {
		c := *s.lobby
		snap.CurrentLobby = &c
	}
	return snap
}
