package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/bunker/internal/model"
)

var (
	alice = &model.Player{ID: "alice", DisplayName: "Alice"}
	alpha = model.LobbyCredentials{Name: "alpha", Password: "pw"}
	two   = []model.Characteristic{
		{ID: 1, Name: "Alice", UserID: "alice"},
		{ID: 2, Name: "Bob", UserID: "bob"},
	}
)

func seated(t *testing.T) *Session {
	t.Helper()
	s := New()
	require.NoError(t, s.AuthResolved(alice))
	require.NoError(t, s.EnterLobby(alpha, two))
	return s
}

func TestNewSessionIsCheckingAuth(t *testing.T) {
	snap := New().Snapshot()

	assert.Equal(t, StateAuthChecking, snap.State)
	assert.True(t, snap.IsAuthChecking)
	assert.False(t, snap.GameStarted)
	assert.Empty(t, snap.Players)
	assert.Nil(t, snap.CurrentLobby)
}

func TestAuthResolved(t *testing.T) {
	t.Run("signed in", func(t *testing.T) {
		s := New()
		require.NoError(t, s.AuthResolved(alice))
		snap := s.Snapshot()
		assert.Equal(t, StateNoLobby, snap.State)
		assert.False(t, snap.IsAuthChecking)
		assert.Equal(t, alice.ID, snap.Player.ID)
	})

	t.Run("anonymous", func(t *testing.T) {
		s := New()
		require.NoError(t, s.AuthResolved(nil))
		assert.Equal(t, StateUnauthenticated, s.State())
	})

	t.Run("login after anonymous", func(t *testing.T) {
		s := New()
		require.NoError(t, s.AuthResolved(nil))
		require.NoError(t, s.AuthResolved(alice))
		assert.Equal(t, StateNoLobby, s.State())
	})

	t.Run("already signed in", func(t *testing.T) {
		s := New()
		require.NoError(t, s.AuthResolved(alice))
		assert.ErrorIs(t, s.AuthResolved(alice), ErrInvalidTransition)
	})
}

func TestEnterLobbyRequiresIdentity(t *testing.T) {
	for _, resolved := range []bool{false, true} {
		s := New()
		if resolved {
			require.NoError(t, s.AuthResolved(nil))
		}
		err := s.EnterLobby(alpha, two)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.ErrorIs(t, err, model.ErrUnauthenticated)
		assert.Nil(t, s.Snapshot().CurrentLobby)
	}
}

func TestEnterLobby(t *testing.T) {
	s := seated(t)
	snap := s.Snapshot()

	assert.Equal(t, StateInLobby, snap.State)
	assert.True(t, snap.GameStarted)
	assert.Equal(t, alpha, *snap.CurrentLobby)
	assert.Len(t, snap.Players, 2)
}

func TestSetPlayersOnlyInLobby(t *testing.T) {
	s := New()
	require.NoError(t, s.AuthResolved(alice))
	assert.ErrorIs(t, s.SetPlayers(two), ErrInvalidTransition)

	require.NoError(t, s.EnterLobby(alpha, two[:1]))
	require.NoError(t, s.SetPlayers(two))
	assert.Len(t, s.Snapshot().Players, 2)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := seated(t)
	snap := s.Snapshot()
	snap.Players[0].Name = "mutated"
	snap.CurrentLobby.Password = "mutated"

	again := s.Snapshot()
	assert.Equal(t, "Alice", again.Players[0].Name)
	assert.Equal(t, "pw", again.CurrentLobby.Password)
}

func TestLoadingNests(t *testing.T) {
	s := New()
	s.BeginLoading()
	s.BeginLoading()
	s.EndLoading()
	assert.True(t, s.Snapshot().IsLoading)
	s.EndLoading()
	s.EndLoading()
	assert.False(t, s.Snapshot().IsLoading)
}

func TestResetAlwaysClearsGame(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) *Session
		want  State
	}{
		{"checking auth", func(t *testing.T) *Session { return New() }, StateAuthChecking},
		{"anonymous", func(t *testing.T) *Session {
			s := New()
			require.NoError(t, s.AuthResolved(nil))
			return s
		}, StateUnauthenticated},
		{"no lobby", func(t *testing.T) *Session {
			s := New()
			require.NoError(t, s.AuthResolved(alice))
			return s
		}, StateNoLobby},
		{"in lobby", seated, StateNoLobby},
		{"in lobby and loading", func(t *testing.T) *Session {
			s := seated(t)
			s.BeginLoading()
			return s
		}, StateNoLobby},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.setup(t)
			s.Reset()
			snap := s.Snapshot()

			assert.False(t, snap.GameStarted)
			assert.Empty(t, snap.Players)
			assert.NotNil(t, snap.Players)
			assert.Nil(t, snap.CurrentLobby)
			assert.False(t, snap.IsLoading)
			assert.Equal(t, tt.want, snap.State)
		})
	}
}

func TestAuthLostClearsEverything(t *testing.T) {
	s := seated(t)
	s.AuthLost()
	snap := s.Snapshot()

	assert.Equal(t, StateUnauthenticated, snap.State)
	assert.Nil(t, snap.Player)
	assert.Nil(t, snap.CurrentLobby)
	assert.False(t, snap.GameStarted)
}

func TestObserversSeeEveryChange(t *testing.T) {
	s := New()
	var states []State
	s.OnChange(func(snap Snapshot) { states = append(states, snap.State) })

	require.NoError(t, s.AuthResolved(alice))
	require.NoError(t, s.EnterLobby(alpha, two))
	assert.Error(t, s.AuthResolved(alice))
	s.Reset()

	assert.Equal(t, []State{StateNoLobby, StateInLobby, StateNoLobby}, states)
}

func TestObserverMayReadSession(t *testing.T) {
	s := New()
	var seen State
	s.OnChange(func(Snapshot) { seen = s.State() })

	require.NoError(t, s.AuthResolved(nil))
	assert.Equal(t, StateUnauthenticated, seen)
}
